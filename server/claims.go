package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

// RolesClaimPath is where Keycloak nests realm roles inside the access token.
const RolesClaimPath = "realm_access.roles"

// Claims is the typed view of an access token payload.
type Claims struct {
	Subject           string    `mapstructure:"sub" json:"sub"`
	Email             string    `mapstructure:"email" json:"email,omitempty"`
	EmailVerified     bool      `mapstructure:"email_verified" json:"email_verified"`
	Name              string    `mapstructure:"name" json:"name,omitempty"`
	PreferredUsername string    `mapstructure:"preferred_username" json:"preferred_username,omitempty"`
	GivenName         string    `mapstructure:"given_name" json:"given_name,omitempty"`
	FamilyName        string    `mapstructure:"family_name" json:"family_name,omitempty"`
	Roles             RoleSet   `mapstructure:"-" json:"-"`
	ExpiresAt         time.Time `mapstructure:"-" json:"-"`
}

// Expired reports whether the token carried an exp claim that lies before now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// DecodeAccessToken parses a JWT without checking its signature.
// Signature checks belong to the IdentityProvider.
func DecodeAccessToken(raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, newFailure(KindTokenDecodeFailed, "empty token", nil)
	}
	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, mapClaims); err != nil {
		return Claims{}, newFailure(KindTokenDecodeFailed, "parse jwt", err)
	}
	return DecodeClaimsMap(mapClaims)
}

// DecodeClaimsMap maps a generic claim set onto Claims.
// A missing or malformed roles path yields an empty RoleSet.
func DecodeClaimsMap(raw map[string]any) (Claims, error) {
	var claims Claims
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &claims,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Claims{}, newFailure(KindTokenDecodeFailed, "build decoder", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Claims{}, newFailure(KindTokenDecodeFailed, "decode claims", err)
	}

	claims.Roles = NewRoleSet(extractStrings(raw, RolesClaimPath)...)

	if exp, err := jwt.MapClaims(raw).GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

// extractStrings walks a dotted path of nested objects and returns the string
// members of the array at its end. Anything unexpected along the way yields nil.
func extractStrings(raw map[string]any, path string) []string {
	segments := strings.Split(path, ".")
	var node any = raw
	for _, seg := range segments {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		if node, ok = obj[seg]; !ok {
			return nil
		}
	}

	items, ok := node.([]any)
	if !ok {
		if strs, ok := node.([]string); ok {
			return strs
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (c Claims) String() string {
	return fmt.Sprintf("sub=%s roles=%v", c.Subject, c.Roles.Sorted())
}
