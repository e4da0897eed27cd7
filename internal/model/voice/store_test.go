package voice_test

import (
	"testing"

	"github.com/zhouzirui/heritage-guide/backend/internal/model/voice"
)

func TestSeedCodesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, v := range voice.Seed() {
		if v.Code == "" || v.VoiceID == "" || v.DisplayName == "" {
			t.Fatalf("incomplete voice entry: %+v", v)
		}
		if seen[v.Code] {
			t.Fatalf("duplicate voice code %s", v.Code)
		}
		seen[v.Code] = true
	}
	if !seen[voice.DefaultCode] {
		t.Fatalf("default code %s missing from seed", voice.DefaultCode)
	}
}

func TestMemoryStoreFindByCode(t *testing.T) {
	store := voice.NewMemoryStore(voice.Seed(), voice.DefaultCode)

	got, ok := store.FindByCode(" fr-fr ")
	if !ok {
		t.Fatal("expected fr-FR to be found")
	}
	if got.Code != "fr-FR" {
		t.Fatalf("unexpected voice: %+v", got)
	}

	if _, ok := store.FindByCode("xx-XX"); ok {
		t.Fatal("expected unknown code to be rejected")
	}
	if _, ok := store.FindByCode(""); ok {
		t.Fatal("expected empty code to be rejected")
	}
}

func TestMemoryStoreDefaultFallsBackToFirstEntry(t *testing.T) {
	items := []voice.Voice{
		{Code: "zh-CN", DisplayName: "中文", VoiceID: "zh_voice"},
		{Code: "en-GB", DisplayName: "English", VoiceID: "en_voice"},
	}
	store := voice.NewMemoryStore(items, "missing")

	if got := store.Default(); got.Code != "zh-CN" {
		t.Fatalf("expected zh-CN default, got %q", got.Code)
	}
}

func TestMemoryStoreListIsCopy(t *testing.T) {
	store := voice.NewMemoryStore(voice.Seed(), voice.DefaultCode)
	list := store.List()
	list[0].Code = "mutated"

	if store.List()[0].Code == "mutated" {
		t.Fatal("List must return a copy")
	}
}
