package handlers

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"qrlabel-backend/internal/models"
	"qrlabel-backend/internal/repository"
	"qrlabel-backend/internal/services"
	"qrlabel-backend/internal/token"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

//go:embed templates/token.html
var templateFS embed.FS

var tokenPageTemplate = template.Must(template.ParseFS(templateFS, "templates/token.html"))

// pageStrings holds the localized texts of the token page
type pageStrings struct {
	Title            string
	ActiveHeading    string
	ActiveIntro      string
	PhoneIntro       string
	Call             string
	Share            string
	Decline          string
	Locating         string
	ThanksShared     string
	ThanksScanned    string
	ErrorLocation    string
	ErrorSend        string
	Note             string
	FallbackChild    string
	ExpiredHeading   string
	ExpiredBody      string
	AvailableHeading string
	AvailableBody    string
}

// tokenPageData is the template payload
type tokenPageData struct {
	Panel      string
	Token      string
	ChildName  string
	ParentName string
	Phone      string
	Lang       string
	T          pageStrings
}

// TokenPageHandler serves the public finder-facing page reached by scanning
// a wristband QR code, and the consent insert behind it.
type TokenPageHandler struct {
	bands *services.WristbandService
	scans *services.ScanService
}

// NewTokenPageHandler creates a new token page handler
func NewTokenPageHandler(bands *services.WristbandService, scans *services.ScanService) *TokenPageHandler {
	return &TokenPageHandler{bands: bands, scans: scans}
}

// Show handles GET /t/{token}. Status is re-resolved server-side at render
// time; nothing client-cached is trusted.
func (h *TokenPageHandler) Show(w http.ResponseWriter, r *http.Request) {
	lang := pickLang(r.Header.Get("Accept-Language"))
	strs := pageTexts[lang]

	tokenText, err := pageToken(r)
	if err != nil {
		// Malformed token renders the same panel as an unknown one.
		h.render(w, tokenPageData{Panel: "available", Lang: lang, T: strs})
		return
	}

	result, err := h.bands.Status(r.Context(), tokenText)
	if err != nil {
		log.Error().Err(err).Str("token", tokenText).Msg("Token page lookup failed")
		http.Error(w, "temporary error, please retry", http.StatusServiceUnavailable)
		return
	}

	data := tokenPageData{Panel: "available", Token: tokenText, Lang: lang, T: strs}
	switch result.Status {
	case models.StatusActive:
		wb := result.Wristband
		data.Panel = "active"
		data.ChildName = firstName(strPtr(wb.ChildName))
		data.ParentName = strPtr(wb.ParentName)
		data.Phone = strPtr(wb.Phone)
		if data.ChildName == "" {
			data.ChildName = strs.FallbackChild
		}
		data.T.ActiveIntro = fmt.Sprintf(strs.ActiveIntro, data.ChildName)
	case models.StatusUsed:
		data.Panel = "expired"
	}

	h.render(w, data)
}

func (h *TokenPageHandler) render(w http.ResponseWriter, data tokenPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := tokenPageTemplate.Execute(w, data); err != nil {
		log.Error().Err(err).Msg("Failed to render token page")
	}
}

// ScanRequest is the body of POST /t/{token}/scan
type ScanRequest struct {
	Consent  bool     `json:"consent"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Accuracy *float64 `json:"accuracy"`
}

// Scan handles POST /t/{token}/scan, appending one consent outcome
func (h *TokenPageHandler) Scan(w http.ResponseWriter, r *http.Request) {
	tokenText, err := pageToken(r)
	if err != nil {
		respondError(w, "invalid_code", http.StatusBadRequest)
		return
	}

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	userAgent := r.UserAgent()
	var uaPtr *string
	if userAgent != "" {
		uaPtr = &userAgent
	}

	ev, err := h.scans.Record(r.Context(), services.ScanRecord{
		TokenText: tokenText,
		Consent:   req.Consent,
		Lat:       req.Lat,
		Lng:       req.Lng,
		AccuracyM: req.Accuracy,
		Source:    detectSource(userAgent),
		UserAgent: uaPtr,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound), errors.Is(err, services.ErrNotActive):
			respondError(w, "not_active", http.StatusNotFound)
		case errors.Is(err, services.ErrMissingLocation):
			respondError(w, "missing location", http.StatusBadRequest)
		default:
			log.Error().Err(err).Str("token", tokenText).Msg("Failed to record scan")
			respondError(w, "scan failed", http.StatusInternalServerError)
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "scan_id": ev.ID})
}

// pageToken extracts the token from the path, with a query parameter
// fallback, and validates its shape before any database access.
func pageToken(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "token")
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	return token.Normalize(raw)
}

// detectSource classifies the finder's browser for diagnostics
func detectSource(userAgent string) string {
	if userAgent == "" {
		return "web_unknown"
	}
	ua := strings.ToLower(userAgent)
	for _, marker := range []string{"iphone", "ipad", "android", "mobile"} {
		if strings.Contains(ua, marker) {
			return "web_mobile"
		}
	}
	return "web_desktop"
}

// firstName keeps only the child's first name on the public page
func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func strPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// pickLang chooses the page language from Accept-Language, Danish default
func pickLang(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag := strings.ToLower(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
		switch {
		case strings.HasPrefix(tag, "en"):
			return "en"
		case strings.HasPrefix(tag, "da"):
			return "da"
		}
	}
	return "da"
}

var pageTexts = map[string]pageStrings{
	"da": {
		Title:            "QRlabel",
		ActiveHeading:    "Tak fordi du scannede",
		ActiveIntro:      "%s har brug for at komme hjem til sine forældre. Du kan hjælpe ved at dele din lokation én gang.",
		PhoneIntro:       "Du kan også ringe direkte:",
		Call:             "Ring til",
		Share:            "Del min lokation",
		Decline:          "Del ikke min lokation",
		Locating:         "Henter lokation…",
		ThanksShared:     "Tak. Din lokation er delt med forældrene.",
		ThanksScanned:    "Tak fordi du scannede armbåndet.",
		ErrorLocation:    "Kunne ikke hente din lokation. Prøv igen.",
		ErrorSend:        "Der opstod en fejl under afsendelse. Prøv igen.",
		Note:             "Ved at acceptere deler du din lokation nu og her – anonymt – med ejeren af armbåndet. Der foretages ikke løbende sporing.",
		FallbackChild:    "et barn",
		ExpiredHeading:   "Armbåndet er udløbet",
		ExpiredBody:      "Dette armbånd er ikke længere aktivt.",
		AvailableHeading: "Armbåndet er ikke aktiveret",
		AvailableBody:    "Dette armbånd er endnu ikke aktiveret. Hent appen for at aktivere det.",
	},
	"en": {
		Title:            "QRlabel",
		ActiveHeading:    "Thank you for scanning",
		ActiveIntro:      "%s needs to get back to their parents. You can help by sharing your location once.",
		PhoneIntro:       "You can also call directly:",
		Call:             "Call",
		Share:            "Share my location",
		Decline:          "Do not share my location",
		Locating:         "Getting location…",
		ThanksShared:     "Thank you. Your location has been shared with the parents.",
		ThanksScanned:    "Thank you for scanning the wristband.",
		ErrorLocation:    "Could not get your location. Please try again.",
		ErrorSend:        "An error occurred while sending. Please try again.",
		Note:             "By accepting, you share your location once, anonymously, with the wristband owner. No continuous tracking is performed.",
		FallbackChild:    "a child",
		ExpiredHeading:   "This wristband has expired",
		ExpiredBody:      "This wristband is no longer active.",
		AvailableHeading: "Not yet activated",
		AvailableBody:    "This wristband has not been activated yet. Download the app to activate it.",
	},
}
