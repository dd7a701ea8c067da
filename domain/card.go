package domain

import "github.com/bytedance/sonic"

// Card represents a single story card on the board.
type Card struct {
	ID         string
	Status     string
	Sprint     string
	Product    string
	Title      string
	Story      string
	Acceptance string
	// Extra holds dynamic fields collected through status constraints.
	Extra map[string]string
}

// Wire names of the fixed card fields. Everything else round-trips
// through Extra.
const (
	fieldID         = "id"
	fieldStatus     = "status"
	fieldSprint     = "sprint"
	fieldProduct    = "product"
	fieldTitle      = "title"
	fieldStory      = "story"
	fieldAcceptance = "acceptance"
)

// Field returns the value of a wire-named field, fixed or dynamic.
func (c *Card) Field(name string) (string, bool) {
	switch name {
	case fieldID:
		return c.ID, true
	case fieldStatus:
		return c.Status, true
	case fieldSprint:
		return c.Sprint, true
	case fieldProduct:
		return c.Product, true
	case fieldTitle:
		return c.Title, true
	case fieldStory:
		return c.Story, true
	case fieldAcceptance:
		return c.Acceptance, true
	}
	v, ok := c.Extra[name]
	return v, ok
}

// SetField assigns a wire-named field, fixed or dynamic.
func (c *Card) SetField(name, value string) {
	switch name {
	case fieldID:
		c.ID = value
	case fieldStatus:
		c.Status = value
	case fieldSprint:
		c.Sprint = value
	case fieldProduct:
		c.Product = value
	case fieldTitle:
		c.Title = value
	case fieldStory:
		c.Story = value
	case fieldAcceptance:
		c.Acceptance = value
	default:
		if c.Extra == nil {
			c.Extra = make(map[string]string)
		}
		c.Extra[name] = value
	}
}

// MarshalJSON flattens dynamic fields to the top level, matching the
// wire shape the board protocol uses for card records.
func (c Card) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, len(c.Extra)+7)
	for k, v := range c.Extra {
		m[k] = v
	}
	m[fieldID] = c.ID
	m[fieldStatus] = c.Status
	m[fieldSprint] = c.Sprint
	m[fieldProduct] = c.Product
	m[fieldTitle] = c.Title
	m[fieldStory] = c.Story
	m[fieldAcceptance] = c.Acceptance
	return sonic.Marshal(m)
}

// UnmarshalJSON is the inverse of MarshalJSON: fixed fields are lifted
// out and every remaining key lands in Extra.
func (c *Card) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := sonic.Unmarshal(data, &m); err != nil {
		return err
	}
	c.Extra = nil
	for k, v := range m {
		switch k {
		case fieldID, fieldStatus, fieldSprint, fieldProduct, fieldTitle, fieldStory, fieldAcceptance:
			c.SetField(k, v)
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]string, len(m))
			}
			c.Extra[k] = v
		}
	}
	return nil
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	out := c
	if c.Extra != nil {
		out.Extra = make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
