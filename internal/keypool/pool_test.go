package keypool

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"iconforge/internal/domain"
)

type stubKeyRepo struct {
	keys    []domain.APIKey
	listErr error
}

func (s *stubKeyRepo) ListActive(ctx context.Context, provider string) ([]domain.APIKey, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.APIKey
	for _, k := range s.keys {
		if k.Provider == provider && k.Status == domain.APIKeyStatusActive {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *stubKeyRepo) SetStatus(ctx context.Context, id int64, status domain.APIKeyStatus) error {
	for i := range s.keys {
		if s.keys[i].ID == id {
			s.keys[i].Status = status
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *stubKeyRepo) Insert(ctx context.Context, key *domain.APIKey) error {
	key.ID = int64(len(s.keys) + 1)
	s.keys = append(s.keys, *key)
	return nil
}

func threeKeys() *stubKeyRepo {
	return &stubKeyRepo{keys: []domain.APIKey{
		{ID: 1, Provider: "freepik", Key: "k1", Status: domain.APIKeyStatusActive},
		{ID: 2, Provider: "freepik", Key: "k2", Status: domain.APIKeyStatusActive},
		{ID: 3, Provider: "freepik", Key: "k3", Status: domain.APIKeyStatusActive},
	}}
}

func TestAcquireRoundRobinWraps(t *testing.T) {
	p := NewPool(threeKeys(), zerolog.Nop())
	ctx := context.Background()

	var got []string
	for i := 0; i < 4; i++ {
		key, err := p.Acquire(ctx, "freepik")
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		got = append(got, key.Key)
	}
	want := []string{"k1", "k2", "k3", "k1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}

func TestAcquireSkipsExcluded(t *testing.T) {
	p := NewPool(threeKeys(), zerolog.Nop())

	key, err := p.Acquire(context.Background(), "freepik", 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if key.ID == 1 {
		t.Fatal("excluded credential was returned")
	}
}

func TestAcquireNoCredentials(t *testing.T) {
	p := NewPool(&stubKeyRepo{}, zerolog.Nop())
	_, err := p.Acquire(context.Background(), "freepik")
	if !errors.Is(err, domain.ErrNoActiveCredential) {
		t.Fatalf("err = %v, want ErrNoActiveCredential", err)
	}
}

func TestIsQuotaError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&StatusError{StatusCode: 429}, true},
		{&StatusError{StatusCode: 500, Message: "boom"}, false},
		{errors.New("quota exhausted for key"), true},
		{errors.New("Rate Limit hit"), true},
		{errors.New("daily limit reached"), true},
		{errors.New("limit exceeded"), true},
		{errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := IsQuotaError(tc.err); got != tc.want {
			t.Fatalf("IsQuotaError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestExecuteWithRetryDisablesQuotaKeys(t *testing.T) {
	repo := threeKeys()
	p := NewPool(repo, zerolog.Nop())

	var used []string
	err := p.ExecuteWithRetry(context.Background(), "freepik", func(key *domain.APIKey) error {
		used = append(used, key.Key)
		if key.Key == "k1" {
			return &StatusError{StatusCode: 429, Message: "too many requests"}
		}
		return nil
	}, 3)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(used) != 2 || used[0] != "k1" {
		t.Fatalf("call sequence = %v", used)
	}
	if repo.keys[0].Status != domain.APIKeyStatusDisabled {
		t.Fatal("quota-failed credential was not disabled")
	}
	if repo.keys[1].Status != domain.APIKeyStatusActive || repo.keys[2].Status != domain.APIKeyStatusActive {
		t.Fatal("healthy credentials must stay active")
	}
}

func TestExecuteWithRetryKeepsNonQuotaKeyActive(t *testing.T) {
	repo := threeKeys()
	p := NewPool(repo, zerolog.Nop())

	calls := 0
	err := p.ExecuteWithRetry(context.Background(), "freepik", func(key *domain.APIKey) error {
		calls++
		if calls == 1 {
			return errors.New("connection refused")
		}
		return nil
	}, 3)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, k := range repo.keys {
		if k.Status != domain.APIKeyStatusActive {
			t.Fatalf("credential %d disabled on transient error", k.ID)
		}
	}
}

func TestExecuteWithRetrySurfacesLastErrorOnExhaustion(t *testing.T) {
	repo := &stubKeyRepo{keys: []domain.APIKey{
		{ID: 1, Provider: "freepik", Key: "k1", Status: domain.APIKeyStatusActive},
	}}
	p := NewPool(repo, zerolog.Nop())

	quota := &StatusError{StatusCode: 429, Message: "quota"}
	err := p.ExecuteWithRetry(context.Background(), "freepik", func(key *domain.APIKey) error {
		return quota
	}, 3)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 429 {
		t.Fatalf("err = %v, want last quota error", err)
	}
}
