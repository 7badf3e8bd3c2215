package app

import (
	"context"
	"errors"
	"fmt"

	"math-quiz-service/internal/domain"
)

// UnlockResult reports the outcome of claiming an unlock.
type UnlockResult struct {
	Unlock          domain.Unlock `json:"unlock"`
	UnlockID        int64         `json:"unlock_id"`
	AlreadyUnlocked bool          `json:"already_unlocked"`
}

// DefaultUnlocks is the catalog seeded on startup.
func DefaultUnlocks() []domain.Unlock {
	return []domain.Unlock{
		{Name: "Counting Rex", ImagePath: "/static/dino.png", Description: "Roars at every correct sum.", Rarity: "common"},
		{Name: "Plus-o-saurus", ImagePath: "/static/dino_1.png", Description: "Carries a plus sign on its tail.", Rarity: "common"},
		{Name: "Minus Raptor", ImagePath: "/static/dino_2.png", Description: "Quick at taking things away.", Rarity: "common"},
		{Name: "Abacus Ankylo", ImagePath: "/static/dino.png", Description: "Its armour is made of beads.", Rarity: "common"},
		{Name: "Tri-Times-Tops", ImagePath: "/static/dino_1.png", Description: "Three horns for the three times table.", Rarity: "rare"},
		{Name: "Digit Diplodocus", ImagePath: "/static/dino_2.png", Description: "Long enough to hold any number.", Rarity: "rare"},
		{Name: "Stego Sum", ImagePath: "/static/dino.png", Description: "Adds up its plates every morning.", Rarity: "rare"},
		{Name: "Ptero Product", ImagePath: "/static/dino_1.png", Description: "Multiplies while it flies.", Rarity: "epic"},
		{Name: "Quotient Quetzal", ImagePath: "/static/dino_2.png", Description: "Never leaves a remainder.", Rarity: "epic"},
		{Name: "Infinity Spino", ImagePath: "/static/dino.png", Description: "Counts past the last number.", Rarity: "legendary"},
	}
}

// EnsureUnlocks adds catalog entries missing by name and returns how many it created.
func (s *PlayerService) EnsureUnlocks(ctx context.Context, catalog []domain.Unlock) (int, error) {
	created := 0
	for _, unlock := range catalog {
		err := s.store.CreateUnlock(ctx, &unlock)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed unlock %q: %w", unlock.Name, err)
		}
		created++
	}
	if created > 0 {
		s.logger.InfoContext(ctx, "unlock catalog seeded", "created", created)
	}
	return created, nil
}

// ListUnlocks returns the whole catalog.
func (s *PlayerService) ListUnlocks(ctx context.Context) ([]domain.Unlock, error) {
	unlocks, err := s.store.ListUnlocks(ctx)
	if err != nil {
		return nil, err
	}
	if unlocks == nil {
		unlocks = []domain.Unlock{}
	}
	return unlocks, nil
}

// MyUnlocks returns the unlocks a player owns.
func (s *PlayerService) MyUnlocks(ctx context.Context, playerID int64) ([]domain.Unlock, error) {
	unlocks, err := s.store.PlayerUnlocks(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if unlocks == nil {
		unlocks = []domain.Unlock{}
	}
	return unlocks, nil
}

// SelectedUnlock returns the player's selected unlock, or nil when none is chosen.
func (s *PlayerService) SelectedUnlock(ctx context.Context, playerID int64) (*domain.Unlock, error) {
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if player.SelectedUnlockID == nil {
		return nil, nil
	}
	unlock, err := s.store.GetUnlock(ctx, *player.SelectedUnlockID)
	if errors.Is(err, domain.ErrUnlockNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &unlock, nil
}

// Unlock grants an unlock to the player and selects it. Claiming an owned
// unlock again only selects it.
func (s *PlayerService) Unlock(ctx context.Context, playerID, unlockID int64) (UnlockResult, error) {
	var (
		result UnlockResult
		player domain.Player
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if player, err = s.store.GetPlayer(ctx, playerID); err != nil {
			return err
		}
		unlock, err := s.store.GetUnlock(ctx, unlockID)
		if err != nil {
			return err
		}
		granted, err := s.store.GrantUnlock(ctx, playerID, unlockID)
		if err != nil {
			return err
		}
		if err := s.store.SetSelectedUnlock(ctx, playerID, unlockID); err != nil {
			return err
		}
		result = UnlockResult{Unlock: unlock, UnlockID: unlock.ID, AlreadyUnlocked: !granted}
		return nil
	})
	if err != nil {
		return UnlockResult{}, err
	}
	s.logger.InfoContext(ctx, "unlock claimed", "player_id", playerID, "unlock_id", unlockID, "already_unlocked", result.AlreadyUnlocked)
	s.forgetName(ctx, player.Name)
	return result, nil
}

// SelectUnlock switches the player's selection to an unlock they own.
func (s *PlayerService) SelectUnlock(ctx context.Context, playerID, unlockID int64) (domain.Unlock, error) {
	var (
		selected domain.Unlock
		player   domain.Player
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if player, err = s.store.GetPlayer(ctx, playerID); err != nil {
			return err
		}
		if selected, err = s.store.GetUnlock(ctx, unlockID); err != nil {
			return err
		}
		owned, err := s.store.PlayerUnlocks(ctx, playerID)
		if err != nil {
			return err
		}
		if !containsUnlock(owned, unlockID) {
			return fmt.Errorf("%w: unlock %d", domain.ErrUnlockNotOwned, unlockID)
		}
		return s.store.SetSelectedUnlock(ctx, playerID, unlockID)
	})
	if err != nil {
		return domain.Unlock{}, err
	}
	s.forgetName(ctx, player.Name)
	return selected, nil
}

func containsUnlock(unlocks []domain.Unlock, id int64) bool {
	for _, u := range unlocks {
		if u.ID == id {
			return true
		}
	}
	return false
}
