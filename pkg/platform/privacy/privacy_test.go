package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMasking(t *testing.T) {
	t.Run("serial keeps four on each side", func(t *testing.T) {
		assert.Equal(t, "C02X****JGH7", MaskSerial("C02X1234JGH7"))
	})

	t.Run("short serial is fully masked", func(t *testing.T) {
		assert.Equal(t, "*****", MaskSerial("AB123"))
	})

	t.Run("ssn keeps separators and last four", func(t *testing.T) {
		assert.Equal(t, "***-**-6789", MaskSSN("123-45-6789"))
	})

	t.Run("license keeps two on each side", func(t *testing.T) {
		assert.Equal(t, "DL*******89", MaskLicense("DL123456789"))
	})

	t.Run("card keeps last four", func(t *testing.T) {
		assert.Equal(t, "**** **** **** 4242", MaskCard("4242 4242 4242 4242"))
	})

	t.Run("email keeps first letter and domain", func(t *testing.T) {
		assert.Equal(t, "j***@example.com", MaskEmail("jane@example.com"))
	})
}

func TestRedactText(t *testing.T) {
	out := RedactText("Purchased with card ending 4242, PIN: 1234")
	assert.Contains(t, out, "****4242")
	assert.Contains(t, out, "PIN: ****")
	assert.NotContains(t, out, "1234")

	out = RedactText("paid with 4111-1111-1111-1111, ssn 123-45-6789")
	assert.Contains(t, out, "****-****-****-1111")
	assert.Contains(t, out, "***-**-6789")
}

func TestHashIdentifier(t *testing.T) {
	a := HashIdentifier("user@example.com")
	assert.Len(t, a, 16)
	assert.Equal(t, a, HashIdentifier("user@example.com"))
	assert.NotEqual(t, a, HashIdentifier("other@example.com"))
}

func TestAnonymizeIP(t *testing.T) {
	assert.Equal(t, "192.168.1.0", AnonymizeIP("192.168.1.77"))
	assert.Equal(t, "2001:db8:abcd::", AnonymizeIP("2001:db8:abcd:12::1"))
	assert.Empty(t, AnonymizeIP("not-an-ip"))
}
