package classifier_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"vaultmesh.com/internal/attribution/classifier"
	"vaultmesh.com/internal/attribution/domain"
)

func TestClassifyTagged(t *testing.T) {
	dep := &domain.ConfirmedDeposit{
		TxHash:     "0xabc",
		PartnerTag: "partner-alpha",
		Amount:     decimal.NewFromInt(100),
	}

	cls := classifier.Classify(dep)
	if !cls.Tagged {
		t.Fatal("expected tagged")
	}
	if cls.PartnerID != "partner-alpha" {
		t.Fatalf("unexpected partner: %s", cls.PartnerID)
	}
}

func TestClassifyUntagged(t *testing.T) {
	for _, tag := range []string{"", "   ", "\t\n"} {
		cls := classifier.Classify(&domain.ConfirmedDeposit{TxHash: "0xabc", PartnerTag: tag})
		if cls.Tagged {
			t.Fatalf("tag %q should not classify as tagged", tag)
		}
	}
}

func TestClassifyTrimsTag(t *testing.T) {
	cls := classifier.Classify(&domain.ConfirmedDeposit{PartnerTag: "  partner-beta  "})
	if cls.PartnerID != "partner-beta" {
		t.Fatalf("expected trimmed tag, got %q", cls.PartnerID)
	}
}
