package service

import (
	"context"
	"errors"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/store"
)

// Directory resolves members known to the identity provider.
type Directory interface {
	Member(ctx context.Context, id string) (*domain.Member, error)
	MemberByEmail(ctx context.Context, email string) (*domain.Member, error)
}

// Catalog returns current product definitions.
type Catalog interface {
	Products(ctx context.Context, ids []string) ([]domain.Product, error)
}

// AchievementBook returns achievement definitions.
type AchievementBook interface {
	Achievement(ctx context.Context, id string) (*domain.Achievement, error)
	AchievementByToken(ctx context.Context, token string, kind domain.TokenKind) (*domain.Achievement, error)
}

// StoreDirectory serves Directory, Catalog and AchievementBook from the
// mirrored tables of the store.
type StoreDirectory struct {
	store store.Store
}

var (
	_ Directory       = (*StoreDirectory)(nil)
	_ Catalog         = (*StoreDirectory)(nil)
	_ AchievementBook = (*StoreDirectory)(nil)
)

func NewStoreDirectory(st store.Store) *StoreDirectory {
	return &StoreDirectory{store: st}
}

func (d *StoreDirectory) Member(ctx context.Context, id string) (*domain.Member, error) {
	var m *domain.Member
	err := d.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		m, err = tx.GetMember(ctx, id)
		return err
	})
	return m, notFound(err, domain.ErrAccountNotFound)
}

func (d *StoreDirectory) MemberByEmail(ctx context.Context, email string) (*domain.Member, error) {
	var m *domain.Member
	err := d.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		m, err = tx.GetMemberByEmail(ctx, email)
		return err
	})
	return m, notFound(err, domain.ErrAccountNotFound)
}

func (d *StoreDirectory) Products(ctx context.Context, ids []string) ([]domain.Product, error) {
	var products []domain.Product
	err := d.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		products, err = tx.GetProducts(ctx, ids)
		return err
	})
	return products, err
}

func (d *StoreDirectory) Achievement(ctx context.Context, id string) (*domain.Achievement, error) {
	var a *domain.Achievement
	err := d.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		a, err = tx.GetAchievement(ctx, id)
		return err
	})
	return a, notFound(err, domain.ErrAchievementNotFound)
}

func (d *StoreDirectory) AchievementByToken(ctx context.Context, token string, kind domain.TokenKind) (*domain.Achievement, error) {
	var a *domain.Achievement
	err := d.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		a, err = tx.GetAchievementByToken(ctx, token, kind)
		return err
	})
	return a, notFound(err, domain.ErrAchievementNotFound)
}

// notFound replaces store.ErrNotFound with the domain sentinel.
func notFound(err error, sentinel *domain.Error) error {
	if errors.Is(err, store.ErrNotFound) {
		return sentinel
	}
	return err
}
