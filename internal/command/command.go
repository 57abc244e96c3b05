// Package command is the wire form of ledger operations shared by the Kafka intake and the CLI.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"foodledger/internal/changelog"
	"foodledger/internal/ledger"
	"foodledger/internal/model"
)

// Read-only operations accepted alongside the changelog ops.
const (
	OpGetFood changelog.Op = "getFood"
	OpOwner   changelog.Op = "owner"
)

// Command is one JSON encoded ledger call. Amounts are decimal strings ("0.1").
type Command struct {
	Op        changelog.Op `json:"op"`
	Caller    string       `json:"caller"`
	ID        uint64       `json:"id,omitempty"`
	Name      string       `json:"name,omitempty"`
	Quantity  uint64       `json:"quantity,omitempty"`
	Price     string       `json:"price,omitempty"`
	ExpiresAt time.Time    `json:"expiresAt,omitempty"`
	Units     uint64       `json:"units,omitempty"`
	Payment   string       `json:"payment,omitempty"`
	NewOwner  string       `json:"newOwner,omitempty"`
}

// Result reports the outcome of one command.
type Result struct {
	Op      changelog.Op   `json:"op"`
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Food    *model.Food    `json:"food,omitempty"`
	Owner   model.Identity `json:"owner,omitempty"`
}

// Decode parses one command, rejecting unknown fields.
func Decode(raw []byte) (Command, error) {
	var c Command
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Command{}, fmt.Errorf("%w: decode command: %v", model.ErrInvalidArgument, err)
	}
	return c, nil
}

// Execute runs c against l. The returned Result is filled in for rejections too.
func Execute(ctx context.Context, l *ledger.Ledger, c Command) (Result, error) {
	res := Result{Op: c.Op}
	err := execute(ctx, l, c, &res)
	res.Code = model.ErrorCode(err)
	if err != nil {
		res.Message = err.Error()
	}
	return res, err
}

func execute(ctx context.Context, l *ledger.Ledger, c Command, res *Result) error {
	switch c.Op {
	case OpGetFood:
		f, err := l.GetFood(c.ID)
		if err != nil {
			return err
		}
		res.Food = &f
		return nil
	case OpOwner:
		res.Owner = l.Owner()
		return nil
	}

	caller, err := model.ParseIdentity(c.Caller)
	if err != nil {
		return fmt.Errorf("caller: %w", err)
	}
	var f model.Food
	switch c.Op {
	case changelog.OpAddFood:
		price, perr := amount("price", c.Price)
		if perr != nil {
			return perr
		}
		f, err = l.AddFood(ctx, caller, ledger.AddFoodInput{
			ID:        c.ID,
			Name:      c.Name,
			Quantity:  c.Quantity,
			Price:     price,
			ExpiresAt: c.ExpiresAt,
		})
	case changelog.OpBuyFood:
		payment, perr := amount("payment", c.Payment)
		if perr != nil {
			return perr
		}
		f, err = l.BuyFood(ctx, caller, c.ID, c.Units, payment)
	case changelog.OpUpdatePrice:
		price, perr := amount("price", c.Price)
		if perr != nil {
			return perr
		}
		f, err = l.UpdatePrice(ctx, caller, c.ID, price)
	case changelog.OpRestockFood:
		f, err = l.RestockFood(ctx, caller, c.ID, c.Units)
	case changelog.OpTransferOwnership:
		// null identities are rejected by the ledger, not here
		if err = l.TransferOwnership(ctx, caller, model.Identity(c.NewOwner)); err == nil {
			res.Owner = l.Owner()
		}
		return err
	default:
		return fmt.Errorf("%w: unknown op %q", model.ErrInvalidArgument, c.Op)
	}
	if err != nil {
		return err
	}
	res.Food = &f
	return nil
}

func amount(field, s string) (model.Amount, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: %s is required", model.ErrInvalidArgument, field)
	}
	a, err := model.ParseAmount(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return a, nil
}
