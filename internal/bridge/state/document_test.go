package state

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func diffNodes(t *testing.T, want, got *Node) {
	t.Helper()
	if diff := cmp.Diff(want.Interface(), got.Interface()); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeLeafLastWriteWins(t *testing.T) {
	d := NewDocument(DefaultMergeConfig())

	d.Merge(Update{DomainMetrics, MustParse(`{"odometer": {"value": 1}, "fuelLevel": {"value": 50}}`)})
	d.Merge(Update{DomainMetrics, MustParse(`{"odometer": {"value": 2}}`)})
	d.Merge(Update{DomainMetrics, MustParse(`{"speed": {"value": 0}}`)})

	diffNodes(t, MustParse(`{
		"odometer": {"value": 2},
		"fuelLevel": {"value": 50},
		"speed": {"value": 0}
	}`), d.Domain(DomainMetrics))
}

func TestMergeDeepKeys(t *testing.T) {
	d := NewDocument(DefaultMergeConfig())

	d.Merge(
		Update{DomainMetrics, MustParse(`{"customMetrics": {"a": 1, "b": 2}, "configurations": {"x": {"v": 1}}}`)},
		Update{DomainEvents, MustParse(`{"customEvents": {"e1": {"v": 1}}}`)},
	)
	touched := d.Merge(
		Update{DomainMetrics, MustParse(`{"customMetrics": {"b": 3, "c": 4}, "configurations": {"y": {"v": 2}}}`)},
		Update{DomainEvents, MustParse(`{"customEvents": {"e2": {"v": 2}}}`)},
	)

	diffNodes(t, MustParse(`{
		"customMetrics": {"a": 1, "b": 3, "c": 4},
		"configurations": {"x": {"v": 1}, "y": {"v": 2}}
	}`), d.Domain(DomainMetrics))
	diffNodes(t, MustParse(`{"customEvents": {"e1": {"v": 1}, "e2": {"v": 2}}}`), d.Domain(DomainEvents))

	wantTouched := []string{"configurations[y]", "customMetrics[b]", "customMetrics[c]", "customEvents[e2]"}
	if diff := cmp.Diff(wantTouched, touched); diff != "" {
		t.Errorf("touched keys mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeNonSpecialNestedIsLeafReplaced(t *testing.T) {
	d := NewDocument(DefaultMergeConfig())
	d.Merge(Update{DomainMetrics, MustParse(`{"tirePressure": {"value": {"fl": 2.4, "fr": 2.5}}}`)})
	d.Merge(Update{DomainMetrics, MustParse(`{"tirePressure": {"value": {"fl": 2.3}}}`)})

	diffNodes(t, MustParse(`{"tirePressure": {"value": {"fl": 2.3}}}`), d.Domain(DomainMetrics))
}

func TestPollThenStreamingPreservesLeaves(t *testing.T) {
	d := NewDocument(DefaultMergeConfig())
	d.ReplaceAll(map[string]*Node{
		DomainMetrics:  MustParse(`{"odometer": {"value": 100}, "fuelLevel": {"value": 60}}`),
		DomainMessages: MustParse(`[{"messageId": 1}]`),
		DomainVehicles: MustParse(`{"vehicleProfile": []}`),
	})

	d.Merge(Update{DomainMetrics, MustParse(`{"fuelLevel": {"value": 59}}`)})

	diffNodes(t, MustParse(`{
		"metrics": {"odometer": {"value": 100}, "fuelLevel": {"value": 59}},
		"messages": [{"messageId": 1}],
		"vehicles": {"vehicleProfile": []}
	}`), d.Snapshot())
}

func TestReplaceAllDropsMissingDomains(t *testing.T) {
	d := NewDocument(DefaultMergeConfig())
	d.Merge(Update{DomainEvents, MustParse(`{"e": 1}`)})
	d.ReplaceAll(map[string]*Node{DomainMetrics: Object()})

	if d.Domain(DomainEvents) != nil {
		t.Error("events should be gone after a full replace")
	}
	if d.Domain(DomainMetrics) == nil {
		t.Error("metrics missing")
	}
}

func TestScalarDomain(t *testing.T) {
	d := NewDocument(DefaultMergeConfig())
	touched := d.Merge(Update{DomainUpdateTime, String("2025-06-05T21:34:47Z")})
	if diff := cmp.Diff([]string{DomainUpdateTime}, touched); diff != "" {
		t.Errorf("touched mismatch (-want +got):\n%s", diff)
	}
	if d.Domain(DomainUpdateTime).StringOr("") != "2025-06-05T21:34:47Z" {
		t.Errorf("updateTime = %s", d.Domain(DomainUpdateTime))
	}

	if touched := d.Merge(Update{DomainUpdateTime, Null()}); touched != nil {
		t.Errorf("null partial touched %v", touched)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	d := NewDocument(DefaultMergeConfig())
	d.Merge(Update{DomainMetrics, MustParse(`{"a": {"value": 1}}`)})

	snap := d.Snapshot()
	snap.Get(DomainMetrics).Set("a", String("mutated"))

	if !d.Lookup(DomainMetrics, "a").IsObject() {
		t.Error("snapshot mutation leaked into the document")
	}

	v := d.Version()
	d.Merge(Update{DomainMetrics, MustParse(`{"b": 1}`)})
	if d.Version() <= v {
		t.Error("version did not advance")
	}
}

func TestFlattenCommands(t *testing.T) {
	states := MustParse(`{
		"lockCommand": {"value": {"toState": "SUCCESS"}},
		"commands": {
			"unlockCommand": {"value": {"toState": "REQUEST_QUEUED"}},
			"statusRefreshCommand": {"value": {"toState": "IN_PROGRESS"}}
		}
	}`)
	FlattenCommands(states)

	diffNodes(t, MustParse(`{
		"lockCommand": {"value": {"toState": "SUCCESS"}},
		"unlockCommand": {"value": {"toState": "REQUEST_QUEUED"}},
		"statusRefreshCommand": {"value": {"toState": "IN_PROGRESS"}}
	}`), states)

	if got := FlattenCommands(MustParse(`{"commands": "x"}`)); !got.Has("commands") {
		t.Error("non-object commands member should be left alone")
	}
}

func TestClear(t *testing.T) {
	d := NewDocument(DefaultMergeConfig())
	d.Merge(Update{DomainMetrics, MustParse(`{"a": 1}`)})
	d.Clear()
	if !d.Empty() {
		t.Error("document not empty after Clear")
	}
}
