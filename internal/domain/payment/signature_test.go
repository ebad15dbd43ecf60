package payment

import (
	"errors"
	"testing"
)

func TestSign_FonePayInitiate(t *testing.T) {
	sig, err := fonepayInitiate.Sign("secret", map[string]string{
		"MERCHANT_CODE": "FONEPAYTEST",
		"PRN":           "APT_x_1",
		"AMOUNT":        "500.00",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "F1D8BC38367633142162D50D1BF2AA600DC841BE1C38DE55DC6E60730C63AE622BFB69896AD86D192C259447322AF7A6EE352F2378DE79326DFFE92C69A9A41C"
	if sig != want {
		t.Errorf("signature = %s, want %s", sig, want)
	}
}

func TestSign_EsewaInitiate(t *testing.T) {
	sig, err := esewaInitiate.Sign("8gBm/:&EnhH.1/q", map[string]string{
		"total_amount":     "100",
		"transaction_uuid": "11-201-13",
		"product_code":     "EPAYTEST",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "5DZywcrTKD0gia/rsSMcrRHmJl+4Tbol6S+lWgdJ94E="; sig != want {
		t.Errorf("signature = %s, want %s", sig, want)
	}
}

func TestMessage_PreservesOrder(t *testing.T) {
	fields := []Field{{"c", "3"}, {"a", "1"}, {"b", "2"}}
	if got := Message(esewaScheme, fields); got != "c=3,a=1,b=2" {
		t.Errorf("key=value message = %q", got)
	}
	if got := Message(fonepayScheme, fields); got != "3,1,2" {
		t.Errorf("values message = %q", got)
	}
}

func TestSign_Deterministic(t *testing.T) {
	fields := esewaStatus.Fields(map[string]string{
		"product_code":     "EPAYTEST",
		"total_amount":     "1100.00",
		"transaction_uuid": "APT_a_1",
	})
	first, err := Sign("k", esewaScheme, fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := Sign("k", esewaScheme, fields)
		if again != first {
			t.Fatalf("signature changed between calls: %s != %s", again, first)
		}
	}
}

func TestSign_LayoutOrderMatters(t *testing.T) {
	values := map[string]string{
		"product_code":     "EPAYTEST",
		"total_amount":     "100.00",
		"transaction_uuid": "APT_a_1",
	}
	a, _ := esewaInitiate.Sign("k", values)
	b, _ := esewaStatus.Sign("k", values)
	if a == b {
		t.Error("initiate and status layouts must sign different messages")
	}
}

func TestSign_MissingSecret(t *testing.T) {
	_, err := Sign("", fonepayScheme, []Field{{"PRN", "x"}})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	fields := []Field{{"status", "COMPLETE"}, {"total_amount", "100.0"}}
	sig, _ := Sign("k", esewaScheme, fields)

	if err := Verify("k", esewaScheme, fields, sig); err != nil {
		t.Errorf("expected valid signature, got %v", err)
	}
	fields[1].Value = "1.0"
	if err := Verify("k", esewaScheme, fields, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}
