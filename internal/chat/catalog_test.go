package chat

import "testing"

func TestModelByID(t *testing.T) {
	t.Parallel()

	model, ok := ModelByID("smith-pro")
	if !ok {
		t.Fatalf("expected smith-pro in catalog")
	}
	if model.BaseCost != 200 {
		t.Fatalf("smith-pro base cost = %d, want 200", model.BaseCost)
	}
	if model.PremiumOnly {
		t.Fatalf("smith-pro must not be premium only")
	}

	max, ok := ModelByID("smith-max")
	if !ok {
		t.Fatalf("expected smith-max in catalog")
	}
	if !max.PremiumOnly {
		t.Fatalf("smith-max must be premium only")
	}

	if _, ok := ModelByID("smith-ultra"); ok {
		t.Fatalf("expected unknown model lookup to fail")
	}
}

func TestModelsReturnsCopy(t *testing.T) {
	t.Parallel()

	list := Models()
	if len(list) == 0 {
		t.Fatalf("expected non-empty catalog")
	}
	list[0].BaseCost = 1

	again := Models()
	if again[0].BaseCost == 1 {
		t.Fatalf("Models must return a copy of the catalog")
	}

	for _, m := range again {
		if m.ID == "" || m.Provider == "" || m.BaseCost <= 0 {
			t.Fatalf("catalog entry %+v is incomplete", m)
		}
	}
}
