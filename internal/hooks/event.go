// Package hooks routes site events (plugin changes, logins, orders, fatal
// errors, menu edits) to the handlers registered for their kind.
package hooks

import (
	"fmt"
	"strings"
	"time"
)

type Kind int

const (
	KindUnknown Kind = iota
	PluginActivated
	PluginDeactivated
	PluginDeleted
	PluginInstalled
	PluginUpdated
	UserRegistered
	UserLoggedIn
	OrderPlaced
	PaymentCompleted
	AddedToCart
	CachePurged
	MailFailed
	FatalError
	MenuUpdated
	MenuCreated
	MenuDeleted
)

var kindNames = [...]string{
	KindUnknown:       "unknown",
	PluginActivated:   "plugin_activated",
	PluginDeactivated: "plugin_deactivated",
	PluginDeleted:     "plugin_deleted",
	PluginInstalled:   "plugin_installed",
	PluginUpdated:     "plugin_updated",
	UserRegistered:    "user_registered",
	UserLoggedIn:      "user_logged_in",
	OrderPlaced:       "order_placed",
	PaymentCompleted:  "payment_completed",
	AddedToCart:       "added_to_cart",
	CachePurged:       "cache_purged",
	MailFailed:        "mail_failed",
	FatalError:        "fatal_error",
	MenuUpdated:       "menu_updated",
	MenuCreated:       "menu_created",
	MenuDeleted:       "menu_deleted",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) Valid() bool { return k > KindUnknown && int(k) < len(kindNames) }

func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range kindNames {
		if i > 0 && n == s {
			return Kind(i), nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown event kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Actor is the WordPress user behind an event.
type Actor struct {
	ID        int64    `json:"id,omitempty"`
	Login     string   `json:"login,omitempty"`
	Email     string   `json:"email,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// DisplayName is "First Last" when both are set, else the email, else fallback.
func (a Actor) DisplayName(fallback string) string {
	if a.FirstName != "" && a.LastName != "" {
		return a.FirstName + " " + a.LastName
	}
	if a.Email != "" {
		return a.Email
	}
	return fallback
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PrimaryRole is the first role, as WordPress reports it.
func (a Actor) PrimaryRole() string {
	if len(a.Roles) == 0 {
		return ""
	}
	return a.Roles[0]
}

type Plugin struct {
	File    string `json:"file,omitempty"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type Order struct {
	ID           int64  `json:"id"`
	Total        string `json:"total,omitempty"`
	Currency     string `json:"currency,omitempty"`
	BillingEmail string `json:"billing_email,omitempty"`
}

type CartItem struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

type Menu struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug,omitempty"`
	Name string `json:"name,omitempty"`
}

type Mail struct {
	Subject string `json:"subject,omitempty"`
	Error   string `json:"error"`
}

// Fatal is a PHP fatal error captured at shutdown.
type Fatal struct {
	Type    int    `json:"type"`
	Message string `json:"message"`
	File    string `json:"file"`
	Line    int    `json:"line"`
}

// Text is the one-line form used for fingerprinting and alerts. Only the
// first line of the message is kept.
func (f Fatal) Text() string {
	msg, _, _ := strings.Cut(f.Message, "\n")
	return fmt.Sprintf("Fatal Error [%d]: %s in %s on line %d", f.Type, msg, f.File, f.Line)
}

// Event is one site occurrence. Only the payload matching Kind is set.
type Event struct {
	Kind  Kind      `json:"kind"`
	At    time.Time `json:"at"`
	Actor Actor     `json:"actor"`
	IP    string    `json:"ip,omitempty"`

	Plugin *Plugin   `json:"plugin,omitempty"`
	Order  *Order    `json:"order,omitempty"`
	Cart   *CartItem `json:"cart,omitempty"`
	Menu   *Menu     `json:"menu,omitempty"`
	Mail   *Mail     `json:"mail,omitempty"`
	Fatal  *Fatal    `json:"fatal,omitempty"`
}

// Validate checks that the payload required by Kind is present.
func (e Event) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("invalid event kind %s", e.Kind)
	}
	missing := func(what string) error { return fmt.Errorf("%s event without %s", e.Kind, what) }
	switch e.Kind {
	case PluginActivated, PluginDeactivated, PluginDeleted, PluginInstalled, PluginUpdated:
		if e.Plugin == nil {
			return missing("plugin")
		}
	case OrderPlaced, PaymentCompleted:
		if e.Order == nil {
			return missing("order")
		}
	case AddedToCart:
		if e.Cart == nil {
			return missing("cart")
		}
	case MenuUpdated, MenuCreated, MenuDeleted:
		if e.Menu == nil {
			return missing("menu")
		}
	case MailFailed:
		if e.Mail == nil {
			return missing("mail")
		}
	case FatalError:
		if e.Fatal == nil {
			return missing("fatal")
		}
	}
	return nil
}
