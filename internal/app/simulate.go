package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"alert-trader/internal/alert"
)

// Simulate 用纸面交易所跑一次完整的告警流程：真实行情与过滤器，本地成交，不落库。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	payload, err := readPayload(opts)
	if err != nil {
		return err
	}

	cfg := *a.Config
	cfg.Exchange.DryRun = true

	rt, err := a.build(ctx, buildOptions{paper: true, offline: true, notify: opts.Notify, config: &cfg})
	if err != nil {
		return err
	}
	defer rt.Close()
	svc := rt.svc

	if err := svc.RefreshFilters(ctx); err != nil {
		return err
	}
	if err := svc.RefreshPrices(ctx); err != nil {
		return err
	}
	if len(opts.Balances) > 0 {
		balances, err := parseBalances(opts.Balances)
		if err != nil {
			return err
		}
		if err := svc.Balances().ReplaceAll(balances, time.Now().UTC()); err != nil {
			return err
		}
	} else if err := svc.RefreshBalances(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("balances unavailable; pct and balance checks will fail")
	}

	result, execErr := svc.Execute(ctx, payload)

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return execErr
}

func readPayload(opts SimulateOptions) (alert.Payload, error) {
	switch {
	case opts.Payload != "" && opts.PayloadPath != "":
		return alert.Payload{}, errors.New("--payload and --file are mutually exclusive")
	case opts.Payload != "":
		return alert.ParsePayload([]byte(opts.Payload))
	case opts.PayloadPath == "-":
		return decodeFrom(os.Stdin)
	case opts.PayloadPath != "":
		f, err := os.Open(opts.PayloadPath)
		if err != nil {
			return alert.Payload{}, err
		}
		defer f.Close()
		return decodeFrom(f)
	}
	return alert.Payload{}, errors.New("one of --payload or --file is required")
}

func decodeFrom(r io.Reader) (alert.Payload, error) {
	p, err := alert.DecodePayload(r)
	if err != nil {
		return alert.Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

func parseBalances(raw map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(raw))
	for asset, text := range raw {
		v, err := decimal.NewFromString(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("invalid balance for %s: %w", asset, err)
		}
		out[strings.ToUpper(strings.TrimSpace(asset))] = v
	}
	return out, nil
}
