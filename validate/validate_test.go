package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmail(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "teacher@school.org", "teacher@school.org", false},
		{"normalizes case and space", "  Jane.Doe@School.ORG ", "jane.doe@school.org", false},
		{"plus tag", "kid+math@gmail.com", "kid+math@gmail.com", false},
		{"empty", "", "", true},
		{"missing at", "teacher.school.org", "", true},
		{"missing tld", "teacher@school", "", true},
		{"display name", "Jane <jane@school.org>", "", true},
		{"double dot", "jane..doe@school.org", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Email(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEmail)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSuggestEmailDomain(t *testing.T) {
	assert.Equal(t, "sam@gmail.com", SuggestEmailDomain("sam@gmial.com"))
	assert.Equal(t, "sam@hotmail.com", SuggestEmailDomain("Sam@Hotmial.com"))
	assert.Empty(t, SuggestEmailDomain("sam@gmail.com"))
	assert.Empty(t, SuggestEmailDomain("not-an-email"))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"(555) 123-4567", "+15551234567", false},
		{"+44 20 7946 0958", "+442079460958", false},
		{"555.123.4567", "+15551234567", false},
		{"12345", "", true},
		{"555-CALL-NOW", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizePhone(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPassword(t *testing.T) {
	assert.NoError(t, Password("Classroom2024"))
	assert.ErrorIs(t, Password("Short1"), ErrWeakPassword)
	assert.ErrorIs(t, Password("alllowercase1"), ErrWeakPassword)
	assert.ErrorIs(t, Password("NoDigitsHere"), ErrWeakPassword)
}

func TestName(t *testing.T) {
	assert.NoError(t, Name("Mary-Jane O'Neil"))
	assert.NoError(t, Name("José Álvarez"))
	assert.ErrorIs(t, Name("   "), ErrInvalidName)
	assert.ErrorIs(t, Name("Robert'); DROP TABLE"), ErrInvalidName)
}

func TestClassCode(t *testing.T) {
	code, err := ClassCode(" ab12cd ")
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", code)

	_, err = ClassCode("AB12")
	assert.ErrorIs(t, err, ErrInvalidClassCode)
}

func TestPIN(t *testing.T) {
	assert.NoError(t, PIN("4821"))
	assert.NoError(t, PIN("48213377"))
	assert.ErrorIs(t, PIN("482"), ErrInvalidPIN)
	assert.ErrorIs(t, PIN("482133771"), ErrInvalidPIN)
	assert.ErrorIs(t, PIN("48a1"), ErrInvalidPIN)
}

func TestPINEqual(t *testing.T) {
	assert.True(t, PINEqual("4821", "4821"))
	assert.False(t, PINEqual("4822", "4821"))
	assert.False(t, PINEqual("482", "4821"))
	assert.False(t, PINEqual("48a1", "48a1"))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "j***@school.org", MaskEmail("jane@school.org"))
	assert.Equal(t, "***4567", MaskPhone("+15551234567"))
	assert.Equal(t, "otp-request:j***@school.org", MaskKey("otp-request:jane@school.org"))
	assert.Equal(t, "otp-request:***4567", MaskKey("otp-request:+15551234567"))
	assert.Equal(t, "search-students:user-42", MaskKey("search-students:user-42"))
	assert.Equal(t, "ip:10.0.0.1", MaskKey("ip:10.0.0.1"))
}
