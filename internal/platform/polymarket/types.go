package polymarket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether a flag is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// APIMarket is the subset of a Gamma market the importer reads.
type APIMarket struct {
	ID          string   `json:"id"`
	Question    string   `json:"question"`
	ConditionID string   `json:"conditionId"`
	Slug        string   `json:"slug"`
	Active      flexBool `json:"active"`
	Closed      flexBool `json:"closed"`
	// EndDate is RFC 3339; EndDateISO is a bare date used when EndDate is
	// missing.
	EndDate    string `json:"endDate"`
	EndDateISO string `json:"endDateIso"`
}

// Market is a binary Polymarket market keyed the way the oracle keys it.
type Market struct {
	ID       domain.MarketID
	Question string
	Slug     string
	EndDate  time.Time
	Closed   bool
}

// ToMarket converts the API payload. The condition id must be a 32-byte hex
// string and an end date must be present.
func (m APIMarket) ToMarket() (Market, error) {
	id, err := domain.ParseMarketID(m.ConditionID)
	if err != nil {
		return Market{}, fmt.Errorf("market %s: condition id: %w", m.ID, err)
	}
	end, err := m.endDate()
	if err != nil {
		return Market{}, fmt.Errorf("market %s: %w", m.ID, err)
	}
	return Market{
		ID:       id,
		Question: m.Question,
		Slug:     m.Slug,
		EndDate:  end,
		Closed:   bool(m.Closed),
	}, nil
}

func (m APIMarket) endDate() (time.Time, error) {
	if m.EndDate != "" {
		t, err := time.Parse(time.RFC3339, m.EndDate)
		if err != nil {
			return time.Time{}, fmt.Errorf("end date %q: %w", m.EndDate, err)
		}
		return t.UTC(), nil
	}
	if m.EndDateISO != "" {
		t, err := time.Parse(time.DateOnly, m.EndDateISO)
		if err != nil {
			return time.Time{}, fmt.Errorf("end date %q: %w", m.EndDateISO, err)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("no end date")
}
