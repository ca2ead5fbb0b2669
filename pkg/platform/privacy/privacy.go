// Package privacy holds redaction helpers for values that leave the trust
// boundary in exports, logs or list views.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"regexp"
	"strings"
	"unicode"
)

const maskRune = '*'

// MaskMiddle keeps keepStart leading and keepEnd trailing runes and masks the
// rest. Values too short to hide anything are fully masked.
func MaskMiddle(s string, keepStart, keepEnd int) string {
	r := []rune(s)
	if len(r) <= keepStart+keepEnd {
		return strings.Repeat(string(maskRune), len(r))
	}
	out := make([]rune, len(r))
	for i := range r {
		if i < keepStart || i >= len(r)-keepEnd {
			out[i] = r[i]
		} else {
			out[i] = maskRune
		}
	}
	return string(out)
}

// MaskSerial hides the middle of a serial number: "C02X1234JGH7" → "C02X****JGH7".
func MaskSerial(serial string) string {
	return MaskMiddle(serial, 4, 4)
}

// MaskLicense keeps two characters on each side: "DL123456789" → "DL*******89".
func MaskLicense(v string) string {
	return MaskMiddle(v, 2, 2)
}

// MaskSSN masks every digit but the last four, keeping separators:
// "123-45-6789" → "***-**-6789".
func MaskSSN(ssn string) string {
	return maskDigitsExceptLast(ssn, 4)
}

// MaskCard masks every digit but the last four, keeping separators.
func MaskCard(number string) string {
	return maskDigitsExceptLast(number, 4)
}

func maskDigitsExceptLast(s string, keep int) string {
	r := []rune(s)
	digits := 0
	for _, c := range r {
		if unicode.IsDigit(c) {
			digits++
		}
	}
	seen := 0
	for i, c := range r {
		if !unicode.IsDigit(c) {
			continue
		}
		seen++
		if seen <= digits-keep {
			r[i] = maskRune
		}
	}
	return string(r)
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return MaskMiddle(email, 0, 0)
	}
	local := []rune(email[:at])
	return string(local[0]) + strings.Repeat(string(maskRune), len(local)-1) + email[at:]
}

var (
	pinPattern     = regexp.MustCompile(`(?i)\b(pin|passcode|cvv|cvc)(\s*[:=]\s*)\d+`)
	endingPattern  = regexp.MustCompile(`(?i)\b(ending(?:\s+in)?\s+)(\d{4})\b`)
	cardPattern    = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)
	ssnTextPattern = regexp.MustCompile(`\b\d{3}-\d{2}-(\d{4})\b`)
)

// RedactText scrubs free text such as item notes: PINs, card numbers and SSNs.
func RedactText(text string) string {
	text = pinPattern.ReplaceAllString(text, "${1}${2}****")
	text = cardPattern.ReplaceAllStringFunc(text, MaskCard)
	text = ssnTextPattern.ReplaceAllString(text, "***-**-${1}")
	text = endingPattern.ReplaceAllString(text, "${1}****${2}")
	return text
}

// HashIdentifier returns a stable, non-reversible label for an identifier so
// it can appear in logs without the raw value.
func HashIdentifier(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:8])
}

// AnonymizeIP zeroes the host part of an address (/24 for IPv4, /48 for IPv6).
func AnonymizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return parsed.Mask(net.CIDRMask(48, 128)).String()
}
