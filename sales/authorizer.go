package sales

import (
	"context"
	"fmt"

	"lukechampine.com/uint128"
)

// RateAuthorizer decides whether actor may change the tax rate.
// It is consulted before the write; a non-nil error aborts the change.
type RateAuthorizer interface {
	AuthorizeRateChange(ctx context.Context, actor string, newRate uint128.Uint128) error
}

// AllowAll accepts every rate change from any caller.
type AllowAll struct{}

func (AllowAll) AuthorizeRateChange(context.Context, string, uint128.Uint128) error {
	return nil
}

// AllowList accepts rate changes only from the listed actors.
type AllowList struct {
	actors map[string]struct{}
}

// NewAllowList builds an AllowList. Empty names are ignored.
func NewAllowList(actors ...string) *AllowList {
	al := &AllowList{actors: make(map[string]struct{}, len(actors))}
	for _, a := range actors {
		if a != "" {
			al.actors[a] = struct{}{}
		}
	}
	return al
}

func (al *AllowList) AuthorizeRateChange(_ context.Context, actor string, _ uint128.Uint128) error {
	if _, ok := al.actors[actor]; ok {
		return nil
	}
	return fmt.Errorf("%w: actor %q may not change the tax rate", ErrUnauthorized, actor)
}

// AuthorizerFor returns AllowAll for an empty list, otherwise an AllowList.
func AuthorizerFor(actors []string) RateAuthorizer {
	if len(actors) == 0 {
		return AllowAll{}
	}
	return NewAllowList(actors...)
}
