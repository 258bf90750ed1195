// Package pixcode builds static Pix "copia e cola" payloads in the EMV
// merchant-presented TLV format, terminated by a CRC-16/CCITT-FALSE checksum.
package pixcode

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ayo6706/ramp-ledger/internal/domain"
)

const (
	DefaultReceiverKey  = "b911e9ae-cf02-47ca-8390-a7f1fc41898f"
	DefaultMerchantName = "Nuvende Test"
	DefaultMerchantCity = "Brasilia"

	gui            = "BR.GOV.BCB.PIX"
	maxFieldLength = 99
	maxRefLength   = 25
	emptyRef       = "***"
	crcTag         = "6304"
)

var (
	ErrFieldTooLong = errors.New("pix field exceeds 99 characters")
	ErrNonASCII     = errors.New("pix field must be printable ASCII")

	nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// Config carries the receiver identity embedded in every generated code.
type Config struct {
	ReceiverKey  string
	MerchantName string
	MerchantCity string
}

// Generator produces deterministic static payment codes.
type Generator struct {
	cfg Config
}

// NewGenerator validates cfg, substituting defaults for empty fields.
func NewGenerator(cfg Config) (*Generator, error) {
	if strings.TrimSpace(cfg.ReceiverKey) == "" {
		cfg.ReceiverKey = DefaultReceiverKey
	}
	if strings.TrimSpace(cfg.MerchantName) == "" {
		cfg.MerchantName = DefaultMerchantName
	}
	if strings.TrimSpace(cfg.MerchantCity) == "" {
		cfg.MerchantCity = DefaultMerchantCity
	}
	for name, v := range map[string]string{
		"receiver key":  cfg.ReceiverKey,
		"merchant name": cfg.MerchantName,
		"merchant city": cfg.MerchantCity,
	} {
		if err := checkValue(v); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	// The receiver key shares tag 26 with the GUI sub-field.
	if len(tlv("00", gui))+len(tlv("01", cfg.ReceiverKey)) > maxFieldLength {
		return nil, fmt.Errorf("receiver key: %w", ErrFieldTooLong)
	}
	return &Generator{cfg: cfg}, nil
}

// GenerateStaticCode returns the payload for amountMicros (BRL) referencing
// externalRef. Non-alphanumeric characters are stripped from the reference and
// it is cut to 25 characters.
func (g *Generator) GenerateStaticCode(amountMicros int64, externalRef string) (string, error) {
	if amountMicros <= 0 {
		return "", fmt.Errorf("pix amount must be positive, got %d", amountMicros)
	}
	ref := CleanReference(externalRef)

	var b strings.Builder
	b.WriteString(tlv("00", "01"))
	b.WriteString(tlv("26", tlv("00", gui)+tlv("01", g.cfg.ReceiverKey)))
	b.WriteString(tlv("52", "0000"))
	b.WriteString(tlv("53", "986"))
	b.WriteString(tlv("54", domain.FormatMicros(amountMicros, domain.CurrencyFiat)))
	b.WriteString(tlv("58", "BR"))
	b.WriteString(tlv("59", g.cfg.MerchantName))
	b.WriteString(tlv("60", g.cfg.MerchantCity))
	b.WriteString(tlv("62", tlv("05", ref)))
	b.WriteString(crcTag)

	payload := b.String()
	return payload + CRC16(payload), nil
}

// CleanReference reduces a reference to the form embedded in tag 62.05.
func CleanReference(ref string) string {
	ref = nonAlphanumeric.ReplaceAllString(ref, "")
	if len(ref) > maxRefLength {
		ref = ref[:maxRefLength]
	}
	if ref == "" {
		return emptyRef
	}
	return ref
}

// Verify reports whether code ends in the checksum of everything before it.
func Verify(code string) bool {
	if len(code) < len(crcTag)+4 {
		return false
	}
	body, sum := code[:len(code)-4], code[len(code)-4:]
	if !strings.HasSuffix(body, crcTag) {
		return false
	}
	return CRC16(body) == sum
}

// CRC16 computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF, no reflection)
// and renders it as four uppercase hex digits.
func CRC16(payload string) string {
	crc := uint16(0xFFFF)
	for i := 0; i < len(payload); i++ {
		crc ^= uint16(payload[i]) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return fmt.Sprintf("%04X", crc)
}

func tlv(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

func checkValue(v string) error {
	if len(v) > maxFieldLength {
		return ErrFieldTooLong
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x20 || v[i] > 0x7e {
			return ErrNonASCII
		}
	}
	return nil
}
