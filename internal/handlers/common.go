package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tradewinds/api/internal/platform/auth"
	"github.com/tradewinds/api/internal/platform/pagination"
	"github.com/tradewinds/api/internal/services"
)

const defaultBodyLimit = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func parseTimeParam(raw string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, time.RFC3339}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", raw)
}

// parsePagination reads page_size and page_token query parameters, clamping
// the size into (0, max] and rejecting tokens that do not decode.
func parsePagination(r *http.Request, defaultSize, maxSize int) (services.Pagination, error) {
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultSize,
		MaxPageSize:     maxSize,
	})
	if err != nil {
		return services.Pagination{}, err
	}
	return services.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	}, nil
}

// actorFor converts the authenticated identity into the service-layer actor.
func actorFor(identity *auth.Identity) services.Actor {
	if identity == nil {
		return services.Actor{}
	}
	return services.Actor{
		ID:    strings.TrimSpace(identity.UID),
		Roles: identity.Roles,
	}
}

type addressPayload struct {
	RecipientName string `json:"recipient_name"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
	Phone         string `json:"phone,omitempty"`
}

type addressRequest struct {
	RecipientName string `json:"recipient_name"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2"`
	City          string `json:"city"`
	Region        string `json:"region"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
	Phone         string `json:"phone"`
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		RecipientName: strings.TrimSpace(addr.RecipientName),
		Line1:         strings.TrimSpace(addr.Line1),
		Line2:         strings.TrimSpace(addr.Line2),
		City:          strings.TrimSpace(addr.City),
		Region:        strings.TrimSpace(addr.Region),
		PostalCode:    strings.TrimSpace(addr.PostalCode),
		Country:       strings.ToUpper(strings.TrimSpace(addr.Country)),
		Phone:         strings.TrimSpace(addr.Phone),
	}
}

func buildAddress(req addressRequest) services.Address {
	return services.Address{
		RecipientName: strings.TrimSpace(req.RecipientName),
		Line1:         strings.TrimSpace(req.Line1),
		Line2:         strings.TrimSpace(req.Line2),
		City:          strings.TrimSpace(req.City),
		Region:        strings.TrimSpace(req.Region),
		PostalCode:    strings.TrimSpace(req.PostalCode),
		Country:       strings.ToUpper(strings.TrimSpace(req.Country)),
		Phone:         strings.TrimSpace(req.Phone),
	}
}
