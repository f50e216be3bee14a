package campaign

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"cart-recovery/internal/directory"
	"cart-recovery/internal/settings"
)

// Payload is the outbound call script and context handed to the provider.
// It is also snapshotted onto the Call aggregate for audit.
type Payload struct {
	ScriptVersion string       `json:"scriptVersion"`
	ScriptText    string       `json:"scriptText"`
	Cart          CartSummary  `json:"cart"`
	Customer      CustomerInfo `json:"customer"`
}

type CartSummary struct {
	ID        string               `json:"id"`
	ItemCount int                  `json:"itemCount"`
	Total     float64              `json:"total"`
	Currency  string               `json:"currency"`
	Items     []directory.CartItem `json:"items"`
}

type CustomerInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Timezone string `json:"timezone"`
}

// Build renders the call payload from user and cart state. The template may
// use {name}, {item_count} and {cart_total} placeholders; an empty template
// falls back to the built-in script.
func Build(user directory.User, cart directory.Cart, s settings.Settings) Payload {
	name := strings.TrimSpace(user.Name)
	if name == "" {
		name = "there"
	}
	total := math.Round(cart.Total*100) / 100

	script := renderTemplate(strings.TrimSpace(s.ScriptTemplate), name, cart.ItemCount, total)
	if script == "" {
		script = fmt.Sprintf(
			"Hi %s, you still have %d item(s) in your cart worth $%.2f. Would you like help checking out?",
			name, cart.ItemCount, total,
		)
	}

	currency := cart.Currency
	if currency == "" {
		currency = "USD"
	}
	tz := strings.TrimSpace(user.Timezone)
	if tz == "" {
		tz = s.DefaultTimezone
	}

	return Payload{
		ScriptVersion: s.ScriptVersion,
		ScriptText:    script,
		Cart: CartSummary{
			ID:        cart.ID,
			ItemCount: cart.ItemCount,
			Total:     total,
			Currency:  currency,
			Items:     cart.Items,
		},
		Customer: CustomerInfo{
			ID:       user.ID,
			Name:     name,
			Email:    user.Email,
			Timezone: tz,
		},
	}
}

func renderTemplate(tpl, name string, itemCount int, total float64) string {
	if tpl == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{name}", name,
		"{item_count}", strconv.Itoa(itemCount),
		"{cart_total}", strconv.FormatFloat(total, 'f', 2, 64),
	)
	return r.Replace(tpl)
}
