package memory

import (
	"context"
	"sort"

	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

// SaveDeviceToken registers or re-assigns a push token.
func (s *DMStore) SaveDeviceToken(_ context.Context, t models.DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	s.devices[t.Token] = t
	return nil
}

func (s *DMStore) DeleteDeviceToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, token)
	return nil
}

func (s *DMStore) DeviceTokens(_ context.Context, userID string) ([]models.DeviceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.DeviceToken
	for _, t := range s.devices {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Token < result[j].Token })
	return result, nil
}
