package credential

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"golang.org/x/oauth2"
)

// Epoch is an instant in fractional Unix seconds, the unit the token file uses.
type Epoch float64

// EpochOf converts t to an Epoch. The zero time maps to 0.
func EpochOf(t time.Time) Epoch {
	if t.IsZero() {
		return 0
	}
	return Epoch(float64(t.UnixNano()) / float64(time.Second))
}

// Time converts e back to a time.Time. 0 maps to the zero time.
func (e Epoch) Time() time.Time {
	if e == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(float64(e))
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// IsZero reports whether no instant is set.
func (e Epoch) IsZero() bool { return e == 0 }

// TokenPair is an access token, its refresh token and their expiry instants.
type TokenPair struct {
	Access        string
	Refresh       string
	Expiry        Epoch
	RefreshExpiry Epoch
}

// Empty reports whether the pair carries no access token.
func (p TokenPair) Empty() bool {
	return p.Access == ""
}

// ExpiresWithin reports whether the access token is missing, has no expiry or
// expires before now+margin.
func (p TokenPair) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if p.Empty() || p.Expiry.IsZero() {
		return true
	}
	return !now.Add(margin).Before(p.Expiry.Time())
}

// OAuth2 returns the pair as a bearer oauth2.Token.
func (p TokenPair) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  p.Access,
		RefreshToken: p.Refresh,
		TokenType:    "Bearer",
		Expiry:       p.Expiry.Time(),
	}
}

// Record is the persisted credential material of one (account, region).
type Record struct {
	Primary TokenPair
	Relay   TokenPair
}

// Clone returns a copy of r. A nil record clones to nil.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// recordFile is the on-disk layout shared with earlier releases of the token file.
type recordFile struct {
	AccessToken       string   `json:"access_token"`
	RefreshToken      string   `json:"refresh_token"`
	ExpiryDate        *float64 `json:"expiry_date"`
	RefreshExpiryDate *float64 `json:"refresh_expiry_date,omitempty"`
	AutoToken         string   `json:"auto_token,omitempty"`
	AutoRefreshToken  string   `json:"auto_refresh_token,omitempty"`
	AutoExpiryDate    *float64 `json:"auto_expiry_date,omitempty"`
}

func optional(e Epoch) *float64 {
	if e.IsZero() {
		return nil
	}
	f := float64(e)
	return &f
}

func epoch(f *float64) Epoch {
	if f == nil {
		return 0
	}
	return Epoch(*f)
}

// MarshalJSON encodes r in the token-file layout.
func (r Record) MarshalJSON() ([]byte, error) {
	exp := float64(r.Primary.Expiry)
	f := recordFile{
		AccessToken:       r.Primary.Access,
		RefreshToken:      r.Primary.Refresh,
		ExpiryDate:        &exp,
		RefreshExpiryDate: optional(r.Primary.RefreshExpiry),
	}
	if !r.Relay.Empty() {
		f.AutoToken = r.Relay.Access
		f.AutoRefreshToken = r.Relay.Refresh
		f.AutoExpiryDate = optional(r.Relay.Expiry)
	}
	return json.Marshal(f)
}

// UnmarshalJSON decodes the token-file layout. The primary triple is required.
// An incomplete relay triple decodes as an empty relay pair.
func (r *Record) UnmarshalJSON(data []byte) error {
	var f recordFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f.AccessToken == "" || f.RefreshToken == "" || f.ExpiryDate == nil {
		return fmt.Errorf("token record is missing access_token, refresh_token or expiry_date")
	}

	*r = Record{
		Primary: TokenPair{
			Access:        f.AccessToken,
			Refresh:       f.RefreshToken,
			Expiry:        Epoch(*f.ExpiryDate),
			RefreshExpiry: epoch(f.RefreshExpiryDate),
		},
	}
	if f.AutoToken != "" && f.AutoRefreshToken != "" && f.AutoExpiryDate != nil {
		r.Relay = TokenPair{
			Access:  f.AutoToken,
			Refresh: f.AutoRefreshToken,
			Expiry:  Epoch(*f.AutoExpiryDate),
		}
	}
	return nil
}

// decode parses a stored record and maps any failure onto ErrCorrupt.
func decode(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &rec, nil
}
