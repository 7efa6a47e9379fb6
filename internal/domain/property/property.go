package property

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/lifecycle"
)

// Status represents listing status.
type Status = lifecycle.State

const (
	StatusDraft                  Status = "DRAFT"
	StatusPendingAssignment      Status = "PENDING_ASSIGNMENT"
	StatusAssigned               Status = "ASSIGNED"
	StatusVerificationInProgress Status = "VERIFICATION_IN_PROGRESS"
	StatusActive                 Status = "ACTIVE"
	StatusInactive               Status = "INACTIVE"
	StatusReserved               Status = "RESERVED"
	StatusSold                   Status = "SOLD"
)

// Address is the exact location of a listing. Only City, Region and Locality
// are disclosed before a buyer's visit is approved.
type Address struct {
	Line1      string  `json:"line1"`
	Line2      string  `json:"line2,omitempty"`
	Locality   string  `json:"locality"`
	City       string  `json:"city"`
	Region     string  `json:"region"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
}

// Area is the coarse location shown when the exact address is withheld.
type Area struct {
	Locality string `json:"locality"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
}

func (a Address) Area() Area {
	return Area{Locality: a.Locality, City: a.City, Region: a.Region, Country: a.Country}
}

// Media is an owned, ordered listing asset.
type Media struct {
	MediaID  uuid.UUID `json:"mediaId"`
	URL      string    `json:"url"`
	Caption  string    `json:"caption,omitempty"`
	Position int       `json:"position"`
	Primary  bool      `json:"primary"`
}

// Completeness is a snapshot of how listable the property is.
type Completeness struct {
	Percent int      `json:"percent"`
	Missing []string `json:"missing"`
}

// Property is a listing owned by a seller.
type Property struct {
	ID           int64        `json:"-"`
	PropertyID   uuid.UUID    `json:"propertyId"`
	OwnerID      uuid.UUID    `json:"ownerId"`
	AgentID      *uuid.UUID   `json:"agentId,omitempty"`
	Status       Status       `json:"status"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	PropertyType string       `json:"propertyType"`
	Price        int64        `json:"price"`
	Bedrooms     int          `json:"bedrooms"`
	Bathrooms    int          `json:"bathrooms"`
	AreaSqft     int          `json:"areaSqft"`
	Address      Address      `json:"address"`
	Media        []Media      `json:"media"`
	Completeness Completeness `json:"completeness"`
	Version      int          `json:"version"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

func (p *Property) Kind() lifecycle.EntityType { return lifecycle.EntityProperty }
func (p *Property) Key() uuid.UUID             { return p.PropertyID }
func (p *Property) State() lifecycle.State     { return p.Status }
func (p *Property) SetState(s lifecycle.State) { p.Status = s }
func (p *Property) Revision() int              { return p.Version }

func (p *Property) Facts() lifecycle.Facts {
	return lifecycle.Facts{
		"status":       string(p.Status),
		"completeness": float64(p.Completeness.Percent),
		"has_agent":    p.AgentID != nil,
		"media_count":  float64(len(p.Media)),
	}
}

// Draft holds the editable listing fields.
type Draft struct {
	Title        *string  `json:"title,omitempty"`
	Description  *string  `json:"description,omitempty"`
	PropertyType *string  `json:"property_type,omitempty"`
	Price        *int64   `json:"price,omitempty"`
	Bedrooms     *int     `json:"bedrooms,omitempty"`
	Bathrooms    *int     `json:"bathrooms,omitempty"`
	AreaSqft     *int     `json:"area_sqft,omitempty"`
	Address      *Address `json:"address,omitempty"`
	Media        []Media  `json:"media,omitempty"`
}

// Apply copies the set fields of d onto p and refreshes completeness.
func (p *Property) Apply(d Draft) error {
	if d.Price != nil && *d.Price < 0 {
		return errors.New("price must not be negative")
	}
	if d.Title != nil {
		p.Title = strings.TrimSpace(*d.Title)
	}
	if d.Description != nil {
		p.Description = strings.TrimSpace(*d.Description)
	}
	if d.PropertyType != nil {
		p.PropertyType = strings.TrimSpace(*d.PropertyType)
	}
	if d.Price != nil {
		p.Price = *d.Price
	}
	if d.Bedrooms != nil {
		p.Bedrooms = *d.Bedrooms
	}
	if d.Bathrooms != nil {
		p.Bathrooms = *d.Bathrooms
	}
	if d.AreaSqft != nil {
		p.AreaSqft = *d.AreaSqft
	}
	if d.Address != nil {
		p.Address = *d.Address
	}
	if d.Media != nil {
		media, err := NormalizeMedia(d.Media)
		if err != nil {
			return err
		}
		p.Media = media
	}
	p.Completeness = ComputeCompleteness(p)
	return nil
}

// NormalizeMedia orders media by position, renumbers positions from zero and
// ensures exactly one primary item.
func NormalizeMedia(in []Media) ([]Media, error) {
	out := make([]Media, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	primaries := 0
	for i := range out {
		if strings.TrimSpace(out[i].URL) == "" {
			return nil, errors.New("media url is required")
		}
		if out[i].MediaID == uuid.Nil {
			out[i].MediaID = uuid.New()
		}
		out[i].Position = i
		if out[i].Primary {
			primaries++
		}
	}
	if primaries > 1 {
		return nil, errors.New("only one media item may be primary")
	}
	if primaries == 0 && len(out) > 0 {
		out[0].Primary = true
	}
	return out, nil
}

// ComputeCompleteness scores the listing against the fields required to submit it.
func ComputeCompleteness(p *Property) Completeness {
	checks := []struct {
		name string
		ok   bool
	}{
		{"title", p.Title != ""},
		{"description", p.Description != ""},
		{"property_type", p.PropertyType != ""},
		{"price", p.Price > 0},
		{"address", p.Address.Line1 != "" && p.Address.City != ""},
		{"coordinates", p.Address.Latitude != 0 || p.Address.Longitude != 0},
		{"media", len(p.Media) > 0},
	}
	missing := []string{}
	for _, c := range checks {
		if !c.ok {
			missing = append(missing, c.name)
		}
	}
	done := len(checks) - len(missing)
	return Completeness{Percent: done * 100 / len(checks), Missing: missing}
}
