package queue

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/arbot/internal/domain"
)

func TestValidateAcceptsWellFormedSpecs(t *testing.T) {
	specs := []domain.JobSpec{
		{Type: domain.JobCompare, Args: map[string]string{"curr_x": "ETH", "curr_y": "BTC"}},
		{Type: domain.JobTransact, Args: map[string]string{
			"exchange": "binance", "trade_pair_common": "ETH-BTC",
			"volume": "0.5", "price": "0.03", "type": "sell",
		}},
		{Type: domain.JobReplenish, Args: map[string]string{"exchange": "hitbtc", "currency": "ETH"}},
		{Type: domain.JobConvert, Args: map[string]string{
			"exchange": "binance", "currency_from": "BTC", "currency_to": "ETH", "volume": "0.1",
		}},
		{Type: domain.JobWithdrawalFee, Args: map[string]string{
			"exchange": "binance", "currency": "ETH", "withdrawal_id": "w1", "audit_id": "a1",
		}},
	}
	for _, spec := range specs {
		if err := Validate(spec); err != nil {
			t.Errorf("Validate(%s) = %v, want nil", spec.Type, err)
		}
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	err := Validate(domain.JobSpec{Type: "EXPLODE", Args: map[string]string{}})
	if !errors.Is(err, domain.ErrUnknownJobType) {
		t.Fatalf("err = %v, want ErrUnknownJobType", err)
	}
}

func TestValidateRejectsBadArgs(t *testing.T) {
	cases := []struct {
		name string
		spec domain.JobSpec
	}{
		{"missing argument", domain.JobSpec{
			Type: domain.JobCompare,
			Args: map[string]string{"curr_x": "ETH"},
		}},
		{"empty string", domain.JobSpec{
			Type: domain.JobCompare,
			Args: map[string]string{"curr_x": "ETH", "curr_y": ""},
		}},
		{"non-numeric volume", domain.JobSpec{
			Type: domain.JobTransact,
			Args: map[string]string{
				"exchange": "binance", "trade_pair_common": "ETH-BTC",
				"volume": "lots", "price": "0.03", "type": "buy",
			},
		}},
		{"zero volume", domain.JobSpec{
			Type: domain.JobTransact,
			Args: map[string]string{
				"exchange": "binance", "trade_pair_common": "ETH-BTC",
				"volume": "0", "price": "0.03", "type": "buy",
			},
		}},
		{"negative price", domain.JobSpec{
			Type: domain.JobTransact,
			Args: map[string]string{
				"exchange": "binance", "trade_pair_common": "ETH-BTC",
				"volume": "1", "price": "-0.03", "type": "buy",
			},
		}},
		{"disallowed enum", domain.JobSpec{
			Type: domain.JobTransact,
			Args: map[string]string{
				"exchange": "binance", "trade_pair_common": "ETH-BTC",
				"volume": "1", "price": "0.03", "type": "hold",
			},
		}},
		{"unexpected argument", domain.JobSpec{
			Type: domain.JobReplenish,
			Args: map[string]string{"exchange": "hitbtc", "currency": "ETH", "extra": "x"},
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := Validate(c.spec); !errors.Is(err, domain.ErrInvalidJob) {
				t.Errorf("err = %v, want ErrInvalidJob", err)
			}
		})
	}
}
