package cpr

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	c := New()
	payload := bytes.Repeat([]byte{0xAA}, 100)
	if err := c.SetBank(0, payload); err != nil {
		t.Fatal(err)
	}
	if err := c.SetBank(5, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	raw := c.Bytes()
	if string(raw[:4]) != "RIFF" || string(raw[8:12]) != "AMS!" {
		t.Fatalf("container prelude: %q", raw[:12])
	}

	loaded, err := Load(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Banks) != 2 {
		t.Fatalf("banks = %d", len(loaded.Banks))
	}
	if !bytes.Equal(loaded.Banks[0][:100], payload) {
		t.Error("bank 0 payload lost")
	}
	if len(loaded.Banks[5]) != BankSize {
		t.Errorf("bank padding: %d", len(loaded.Banks[5]))
	}
}

func TestBankBounds(t *testing.T) {
	c := New()
	if err := c.SetBank(MaxBanks, nil); err == nil {
		t.Error("bank 32 accepted")
	}
	if _, err := Load([]byte("RIFFxxxxNOPE")); err == nil {
		t.Error("bad form accepted")
	}
}
