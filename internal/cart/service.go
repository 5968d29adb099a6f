package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cinema/internal/cart/cache"
	"github.com/fjod/go_cinema/internal/cart/repository"
	"github.com/fjod/go_cinema/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PurchaseChecker reports whether a user already owns a movie.
type PurchaseChecker interface {
	HasPurchased(ctx context.Context, userID string, movieID int64) (bool, error)
}

type Service struct {
	repo      repository.CartRepository
	cache     cache.CartCache
	purchases PurchaseChecker
	log       *zap.Logger
	sfg       singleflight.Group // Prevents cache stampede
}

func NewService(repo repository.CartRepository, c cache.CartCache, purchases PurchaseChecker, log *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		cache:     c,
		purchases: purchases,
		log:       log,
	}
}

// GetCart returns the user's cart. A user without a cart gets an empty one.
func (s *Service) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cart cache get failed", zap.String("user_id", userID), zap.Error(err))
		}

		cart, err = s.repo.GetCart(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			now := time.Now()
			return &domain.Cart{UserID: userID, Items: []domain.CartItem{}, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := s.cache.Set(ctx, userID, cart); err != nil {
				s.log.Warn("cart cache set failed", zap.String("user_id", userID), zap.Error(err))
			}
		}()
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// AddItem adds qty copies of a movie to the cart. Movies the user already
// bought cannot be added again.
func (s *Service) AddItem(ctx context.Context, userID string, movieID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("quantity %d: %w", qty, domain.ErrInvalidQuantity)
	}
	if s.purchases != nil {
		owned, err := s.purchases.HasPurchased(ctx, userID, movieID)
		if err != nil {
			return fmt.Errorf("check purchased movie: %w", err)
		}
		if owned {
			return fmt.Errorf("movie %d: %w", movieID, domain.ErrAlreadyPurchased)
		}
	}

	if err := s.repo.AddItem(ctx, userID, movieID, qty); err != nil {
		s.log.Error("cart add item failed", zap.String("user_id", userID), zap.Int64("movie_id", movieID), zap.Error(err))
		return err
	}
	s.invalidate(userID)
	return nil
}

func (s *Service) RemoveItem(ctx context.Context, userID string, movieID int64) error {
	if err := s.repo.RemoveItem(ctx, userID, movieID); err != nil {
		s.log.Error("cart remove item failed", zap.String("user_id", userID), zap.Int64("movie_id", movieID), zap.Error(err))
		return err
	}
	s.invalidate(userID)
	return nil
}

func (s *Service) ClearCart(ctx context.Context, userID string) error {
	if err := s.repo.DeleteCart(ctx, userID); err != nil {
		s.log.Error("cart delete failed", zap.String("user_id", userID), zap.Error(err))
		return err
	}
	s.invalidate(userID)
	return nil
}

func (s *Service) invalidate(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cart cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}
