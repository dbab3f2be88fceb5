// Package validation checks request DTOs with go-playground/validator and
// the scan-specific rules registered on it.
package validation

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/hugh/scanhub/internal/scanner"
)

var hostnameRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*\.?$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("scantarget", func(fl validator.FieldLevel) bool {
		return IsValidTarget(fl.Field().String())
	})
	_ = v.RegisterValidation("portrange", func(fl validator.FieldLevel) bool {
		return IsValidPortRange(fl.Field().String())
	})
	return v
}

// Struct validates s and returns a field name to message map, empty when s
// is valid.
func Struct(s interface{}) map[string]string {
	errs := make(map[string]string)

	err := validate.Struct(s)
	if err == nil {
		return errs
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs["request"] = err.Error()
		return errs
	}
	for _, fe := range verrs {
		errs[fe.Field()] = message(fe)
	}
	return errs
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of: " + fe.Param()
	case "scantarget":
		return "must be a hostname, IP address, CIDR block or http(s) URL"
	case "portrange":
		return "must be comma separated ports or ranges within 1-65535, e.g. 22,80,8000-8100"
	}
	return "is invalid"
}

// IsValidHostname checks RFC 1123 hostnames, including single labels such
// as localhost.
func IsValidHostname(host string) bool {
	if len(host) == 0 || len(host) > 253 {
		return false
	}
	return hostnameRegex.MatchString(host)
}

// IsValidIP checks if the string is a valid IP address (v4 or v6)
func IsValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

// IsValidCIDR checks if the string is a valid CIDR notation
func IsValidCIDR(cidr string) bool {
	_, _, err := net.ParseCIDR(cidr)
	return err == nil
}

// IsValidTarget accepts what the scanning backend can resolve: a hostname,
// an IP address, a CIDR block, host:port, or an http(s) URL.
func IsValidTarget(target string) bool {
	if target == "" || strings.IndexFunc(target, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return false
	}
	if IsValidIP(target) || IsValidCIDR(target) {
		return true
	}
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return false
		}
		return isValidHost(u.Hostname())
	}
	if host, port, err := net.SplitHostPort(target); err == nil {
		return port != "" && isValidHost(host)
	}
	return IsValidHostname(target)
}

func isValidHost(host string) bool {
	return IsValidIP(host) || IsValidHostname(host)
}

// IsValidPortRange checks if the string is a valid port specification
func IsValidPortRange(ports string) bool {
	if ports == "" {
		return true // Empty is valid (uses defaults)
	}
	_, err := scanner.ParsePortRange(ports)
	return err == nil
}

// SanitizeString removes control characters except newlines and tabs.
func SanitizeString(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
