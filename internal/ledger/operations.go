package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"foodledger/internal/changelog"
	"foodledger/internal/model"
)

// AddFoodInput describes a new item registration.
type AddFoodInput struct {
	ID        uint64
	Name      string
	Quantity  uint64
	Price     model.Amount
	ExpiresAt time.Time
}

// AddFood registers a new item. Only the administrator may call it.
func (l *Ledger) AddFood(ctx context.Context, caller model.Identity, in AddFoodInput) (model.Food, error) {
	var out model.Food
	err := l.run(ctx, changelog.OpAddFood, caller, in.ID, func(now time.Time) (changelog.Entry, error) {
		if err := l.guard.RequireAdministrator(caller); err != nil {
			return changelog.Entry{}, err
		}
		if in.ID == 0 {
			return changelog.Entry{}, fmt.Errorf("%w: food id must be positive", model.ErrInvalidArgument)
		}
		if _, ok, err := l.store.Get(in.ID); err != nil {
			return changelog.Entry{}, fmt.Errorf("read food %d: %w", in.ID, err)
		} else if ok {
			return changelog.Entry{}, fmt.Errorf("%w: food %d", model.ErrItemAlreadyExists, in.ID)
		}
		if strings.TrimSpace(in.Name) == "" {
			return changelog.Entry{}, fmt.Errorf("%w: empty name", model.ErrInvalidArgument)
		}
		if !in.ExpiresAt.After(now) {
			return changelog.Entry{}, fmt.Errorf("%w: expiration %s is not in the future", model.ErrInvalidArgument, in.ExpiresAt.Format(time.RFC3339))
		}
		if in.ExpiresAt.After(model.MaxExpiresAt) {
			return changelog.Entry{}, fmt.Errorf("%w: expiration year %d is beyond %d", model.ErrInvalidArgument, in.ExpiresAt.UTC().Year(), model.MaxExpiresAt.Year())
		}
		out = model.Food{
			ID:        in.ID,
			Name:      in.Name,
			Quantity:  in.Quantity,
			Price:     in.Price,
			ExpiresAt: in.ExpiresAt.UTC(),
			IsAdded:   true,
		}
		f := out
		return changelog.Entry{Food: &f, Meta: l.meta}, nil
	})
	if err != nil {
		return model.Food{}, err
	}
	return out, nil
}

// BuyFood sells units of an item to any caller. payment must equal price*units exactly.
func (l *Ledger) BuyFood(ctx context.Context, caller model.Identity, id, units uint64, payment model.Amount) (model.Food, error) {
	var out model.Food
	err := l.run(ctx, changelog.OpBuyFood, caller, id, func(now time.Time) (changelog.Entry, error) {
		f, err := l.lookup(id)
		if err != nil {
			return changelog.Entry{}, err
		}
		if units == 0 {
			return changelog.Entry{}, fmt.Errorf("%w: units must be positive", model.ErrInvalidArgument)
		}
		if f.Expired(now) {
			return changelog.Entry{}, fmt.Errorf("%w: food %d expired at %s", model.ErrItemExpired, id, f.ExpiresAt.Format(time.RFC3339))
		}
		if units > f.Quantity {
			return changelog.Entry{}, fmt.Errorf("%w: want %d, have %d", model.ErrInsufficientStock, units, f.Quantity)
		}
		required, ok := model.Total(f.Price, units)
		if !ok || payment != required {
			return changelog.Entry{}, fmt.Errorf("%w: sent %s, required %s x %d", model.ErrIncorrectPayment, payment, f.Price, units)
		}
		meta := l.meta
		if uint64(meta.Balance) > math.MaxUint64-uint64(payment) {
			return changelog.Entry{}, fmt.Errorf("%w: custodial balance", model.ErrOverflow)
		}
		meta.Balance += payment
		f.Quantity -= units
		out = f
		return changelog.Entry{Food: &f, Units: units, Payment: payment, Meta: meta}, nil
	})
	if err != nil {
		return model.Food{}, err
	}
	return out, nil
}

// UpdatePrice changes the unit price for all later purchases.
func (l *Ledger) UpdatePrice(ctx context.Context, caller model.Identity, id uint64, price model.Amount) (model.Food, error) {
	var out model.Food
	err := l.run(ctx, changelog.OpUpdatePrice, caller, id, func(time.Time) (changelog.Entry, error) {
		if err := l.guard.RequireAdministrator(caller); err != nil {
			return changelog.Entry{}, err
		}
		f, err := l.lookup(id)
		if err != nil {
			return changelog.Entry{}, err
		}
		f.Price = price
		out = f
		return changelog.Entry{Food: &f, Meta: l.meta}, nil
	})
	if err != nil {
		return model.Food{}, err
	}
	return out, nil
}

// RestockFood adds units to an item's quantity.
func (l *Ledger) RestockFood(ctx context.Context, caller model.Identity, id, units uint64) (model.Food, error) {
	var out model.Food
	err := l.run(ctx, changelog.OpRestockFood, caller, id, func(time.Time) (changelog.Entry, error) {
		if err := l.guard.RequireAdministrator(caller); err != nil {
			return changelog.Entry{}, err
		}
		f, err := l.lookup(id)
		if err != nil {
			return changelog.Entry{}, err
		}
		if units == 0 {
			return changelog.Entry{}, fmt.Errorf("%w: units must be positive", model.ErrInvalidArgument)
		}
		if f.Quantity > math.MaxUint64-units {
			return changelog.Entry{}, fmt.Errorf("%w: quantity %d + %d", model.ErrOverflow, f.Quantity, units)
		}
		f.Quantity += units
		out = f
		return changelog.Entry{Food: &f, Units: units, Meta: l.meta}, nil
	})
	if err != nil {
		return model.Food{}, err
	}
	return out, nil
}

// TransferOwnership makes next the administrator. The caller loses its privileges immediately.
func (l *Ledger) TransferOwnership(ctx context.Context, caller, next model.Identity) error {
	return l.run(ctx, changelog.OpTransferOwnership, caller, 0, func(time.Time) (changelog.Entry, error) {
		if err := l.guard.CheckTransfer(caller, next); err != nil {
			return changelog.Entry{}, err
		}
		meta := l.meta
		meta.Owner = next
		return changelog.Entry{Meta: meta}, nil
	})
}
