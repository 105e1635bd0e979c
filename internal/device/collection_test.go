package device

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/stomp"
)

type observedUpdate struct {
	serial  string
	name    string
	value   any
	initial bool
}

// updateRecorder collects collection observer calls.
type updateRecorder struct {
	mu      sync.Mutex
	updates []observedUpdate
}

func (r *updateRecorder) observe(d *Device, p *Parameter, initial bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, observedUpdate{d.Serial(), p.Name(), p.Value(), initial})
}

func (r *updateRecorder) all() []observedUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]observedUpdate(nil), r.updates...)
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func newTestCollection(t *testing.T) *Collection {
	t.Helper()
	c := NewCollection(DefaultRouting())
	c.ParseInstallations([]Installation{
		{ID: 1, Serial: "AB1234", Place: "Home", Type: "T", Product: "BioTec"},
		{ID: 2, Serial: "CD5678", Place: "Cabin", Type: "peltec", Product: "PelTec"},
	})
	return c
}

func messageFrame(subscription, destination, body string) stomp.Frame {
	return stomp.Frame{
		Command: stomp.CmdMessage,
		Headers: map[string]string{
			stomp.HeaderSubscription: subscription,
			stomp.HeaderDestination:  destination,
		},
		Body: body,
	}
}

func TestInstallationID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    InstallationID
		wantErr bool
	}{
		{`42`, 42, false},
		{`"42"`, 42, false},
		{`"abc"`, 0, true},
		{`4.5`, 0, true},
	}

	for _, tt := range tests {
		var id InstallationID
		err := json.Unmarshal([]byte(tt.input), &id)
		if (err != nil) != tt.wantErr {
			t.Errorf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && id != tt.want {
			t.Errorf("Unmarshal(%s) = %d, want %d", tt.input, id, tt.want)
		}
	}
}

func TestCollection_Lookups(t *testing.T) {
	c := newTestCollection(t)

	for _, serial := range []string{"AB1234", "CD5678"} {
		d, err := c.DeviceBySerial(serial)
		if err != nil {
			t.Fatalf("DeviceBySerial(%q) error = %v", serial, err)
		}
		if d.Serial() != serial {
			t.Errorf("DeviceBySerial(%q).Serial() = %q", serial, d.Serial())
		}
	}

	if _, err := c.DeviceBySerial("ZZ0000"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("DeviceBySerial(unknown) error = %v, want ErrDeviceNotFound", err)
	}

	d, err := c.DeviceByID(2)
	if err != nil || d.Serial() != "CD5678" {
		t.Errorf("DeviceByID(2) = %v, %v", d, err)
	}
	if _, err := c.DeviceByID(99); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("DeviceByID(99) error = %v, want ErrDeviceNotFound", err)
	}

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if ids := c.IDs(); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("IDs() = %v, want [1 2]", ids)
	}
}

func TestCollection_ParseInstallationsKeepsIdentity(t *testing.T) {
	c := newTestCollection(t)
	before, _ := c.DeviceBySerial("AB1234")
	before.UpdateParameter("TEMP", 40.0, time.Time{})

	c.ParseInstallations([]Installation{
		{ID: 1, Serial: "AB1234", Place: "Moved", Type: "T"},
	})

	after, _ := c.DeviceBySerial("AB1234")
	if after != before {
		t.Fatal("re-ingesting installations replaced the device")
	}
	if after.Place() != "Moved" {
		t.Errorf("Place() = %q, want %q", after.Place(), "Moved")
	}
	if p, ok := after.Parameter("TEMP"); !ok || p.Value() != 40.0 {
		t.Error("parameters lost after re-ingesting installations")
	}
}

func TestCollection_ParseInstallationStatuses(t *testing.T) {
	c := newTestCollection(t)

	statuses := map[string]InstallationStatus{
		"1": {
			"installation": raw(t, map[string]any{"country": "Croatia", "countryCode": "HR"}),
			"params": raw(t, map[string]any{
				"B_Tk1":   map[string]any{"v": 55.5, "ut": "2024-01-02 03:04:05"},
				"B_STATE": map[string]any{"v": "ON", "ut": nil},
			}),
		},
	}

	if err := c.ParseInstallationStatuses(statuses); err != nil {
		t.Fatalf("ParseInstallationStatuses() error = %v", err)
	}

	d, _ := c.DeviceByID(1)
	if d.Country() != "Croatia" || d.CountryCode() != "HR" {
		t.Errorf("location = %q/%q", d.Country(), d.CountryCode())
	}

	p, ok := d.Parameter("B_Tk1")
	if !ok || p.Value() != 55.5 {
		t.Fatalf("B_Tk1 = %v", p)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Unix()
	if p.Timestamp() != want {
		t.Errorf("B_Tk1 timestamp = %d, want %d", p.Timestamp(), want)
	}

	if p, _ := d.Parameter("B_STATE"); p.Timestamp() == 0 {
		t.Error("null ut did not default to now")
	}
}

func TestCollection_ParseInstallationStatusesErrors(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]InstallationStatus
		wantErr  error
	}{
		{
			name:     "unknown device",
			statuses: map[string]InstallationStatus{"7": {}},
			wantErr:  ErrDeviceNotFound,
		},
		{
			name:     "unknown group",
			statuses: map[string]InstallationStatus{"1": {"alarms": json.RawMessage(`{}`)}},
			wantErr:  ErrProtocolViolation,
		},
		{
			name:     "bad timestamp",
			statuses: map[string]InstallationStatus{"1": {"params": json.RawMessage(`{"X":{"v":1,"ut":"yesterday"}}`)}},
			wantErr:  ErrProtocolViolation,
		},
		{
			name:     "non numeric id",
			statuses: map[string]InstallationStatus{"abc": {}},
			wantErr:  ErrProtocolViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCollection(t)
			if err := c.ParseInstallationStatuses(tt.statuses); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCollection_ParseParameterLists(t *testing.T) {
	c := newTestCollection(t)

	lists := map[string]ParameterList{
		"AB1234": {
			"city": raw(t, "Zagreb"),
			"parameters": raw(t, []map[string]any{
				{"group": "Temperatures", "list": []map[string]any{{"dbindex": 3, "name": "Boiler"}}},
				{"group": "Info", "list": []map[string]any{{"installation_status": "ok"}}},
				{"group": "Weather forecast", "list": []map[string]any{{"naslov": "Today"}}},
				{"group": "Heating circuits", "list": []map[string]any{{"naslov": "Circuit 1", "index": 1}}},
			}),
		},
	}

	if err := c.ParseParameterLists(lists); err != nil {
		t.Fatalf("ParseParameterLists() error = %v", err)
	}

	d, _ := c.DeviceBySerial("AB1234")
	if d.City() != "Zagreb" {
		t.Errorf("City() = %q, want Zagreb", d.City())
	}
	if r, ok := d.Temperatures()["3"]; !ok || r["name"] != "Boiler" {
		t.Errorf("Temperatures()[3] = %v", r)
	}
	if _, ok := d.Info()["ok"]; !ok {
		t.Error("Info record missing")
	}
	if _, ok := d.Weather()["Today"]; !ok {
		t.Error("Weather record missing")
	}
	if _, ok := d.Circuits()["Circuit 1"]; !ok {
		t.Error("Circuits record missing")
	}

	bad := map[string]ParameterList{
		"AB1234": {"parameters": raw(t, []map[string]any{{"group": "Alarms", "list": []any{}}})},
	}
	if err := c.ParseParameterLists(bad); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("unknown group error = %v, want ErrProtocolViolation", err)
	}

	unknownKey := map[string]ParameterList{"AB1234": {"zip": raw(t, "10000")}}
	if err := c.ParseParameterLists(unknownKey); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("unknown key error = %v, want ErrProtocolViolation", err)
	}

	unknownSerial := map[string]ParameterList{"ZZ": {}}
	if err := c.ParseParameterLists(unknownSerial); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("unknown serial error = %v, want ErrDeviceNotFound", err)
	}
}

func TestCollection_ParseGrid(t *testing.T) {
	c := newTestCollection(t)

	doc := map[string]any{
		"widgets": []map[string]any{
			{"id": 10, "template": "boiler", "data": map[string]any{"installation": 1}},
		},
		"widgets2": []map[string]any{
			{"id": "w2", "template": "circuit", "data": map[string]any{"installation": "2"}},
		},
	}
	grid := WidgetGrid{ID: 5, Grid: string(raw(t, doc))}

	if err := c.ParseGrid(grid); err != nil {
		t.Fatalf("ParseGrid() error = %v", err)
	}

	d1, _ := c.DeviceByID(1)
	if w, ok := d1.WidgetByTemplate("boiler"); !ok || w["id"] != 10.0 {
		t.Errorf("WidgetByTemplate(boiler) = %v, %v", w, ok)
	}
	if _, ok := d1.WidgetByTemplate("circuit"); ok {
		t.Error("widget of device 2 attached to device 1")
	}

	d2, _ := c.DeviceByID(2)
	if _, ok := d2.Widgets()["w2"]; !ok {
		t.Error("widgets2 entry not attached to device 2")
	}

	if err := c.ParseGrid(WidgetGrid{}); err != nil {
		t.Errorf("empty grid error = %v, want nil", err)
	}

	orphan := WidgetGrid{Grid: `{"widgets":[{"id":1,"data":{"installation":99}}]}`}
	if err := c.ParseGrid(orphan); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("orphan widget error = %v, want ErrDeviceNotFound", err)
	}

	if err := c.ParseGrid(WidgetGrid{Grid: "{"}); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("broken grid error = %v, want ErrProtocolViolation", err)
	}
}

func TestCollection_NotifyAllUpdated(t *testing.T) {
	c := newTestCollection(t)
	a, _ := c.DeviceBySerial("AB1234")
	b, _ := c.DeviceBySerial("CD5678")
	a.UpdateParameter("P1", 1.0, time.Time{})
	a.UpdateParameter("P2", 2.0, time.Time{})
	b.UpdateParameter("P3", 3.0, time.Time{})

	first, second := &updateRecorder{}, &updateRecorder{}
	c.Subscribe(first.observe)
	c.Subscribe(second.observe)

	paramCalls := 0
	p1, _ := a.Parameter("P1")
	p1.Subscribe(func(*Parameter) { paramCalls++ })

	for call := 1; call <= 2; call++ {
		c.NotifyAllUpdated()

		for name, rec := range map[string]*updateRecorder{"first": first, "second": second} {
			got := rec.all()
			if len(got) != 3*call {
				t.Fatalf("call %d: %s observer got %d updates, want %d", call, name, len(got), 3*call)
			}
			seen := make(map[string]int)
			for _, u := range got {
				if !u.initial {
					t.Errorf("%s observer got initial=false during replay", name)
				}
				seen[u.serial+"/"+u.name]++
			}
			for _, key := range []string{"AB1234/P1", "AB1234/P2", "CD5678/P3"} {
				if seen[key] != call {
					t.Errorf("call %d: %s observer saw %s %d times, want %d", call, name, key, seen[key], call)
				}
			}
		}
	}

	// One parameter replay per observer per call.
	if paramCalls != 4 {
		t.Errorf("parameter subscriber called %d times, want 4", paramCalls)
	}

	ordered := first.all()[:3]
	if ordered[0].name != "P1" || ordered[1].name != "P2" || ordered[2].serial != "CD5678" {
		t.Errorf("replay order = %+v", ordered)
	}
}

func TestCollection_Unsubscribe(t *testing.T) {
	c := newTestCollection(t)
	d, _ := c.DeviceBySerial("AB1234")
	d.UpdateParameter("P1", 1.0, time.Time{})

	rec := &updateRecorder{}
	h := c.Subscribe(rec.observe)
	if !c.Unsubscribe(h) {
		t.Fatal("Unsubscribe() = false, want true")
	}
	c.NotifyAllUpdated()

	if n := len(rec.all()); n != 0 {
		t.Errorf("unsubscribed observer called %d times", n)
	}
}

func TestCollection_ParseRealTimeFrameRouting(t *testing.T) {
	tests := []struct {
		name    string
		frame   stomp.Frame
		wantErr error
		serial  string
	}{
		{
			name:   "per type topic",
			frame:  messageFrame("sub-1", "/topic/cm.inst.T.AB1234", `{"TEMP":55}`),
			serial: "AB1234",
		},
		{
			name:   "per serial topic",
			frame:  messageFrame("sub-1", "/topic/cm.inst.CD5678", `{"TEMP":55}`),
			serial: "CD5678",
		},
		{
			name:    "unknown serial",
			frame:   messageFrame("sub-1", "/topic/cm.inst.T.XX0000", `{"TEMP":55}`),
			wantErr: ErrDeviceNotFound,
		},
		{
			name:    "foreign destination",
			frame:   messageFrame("sub-1", "/topic/other.AB1234", `{}`),
			wantErr: ErrProtocolViolation,
		},
		{
			name:    "unknown subscription",
			frame:   messageFrame("sub-9", "/topic/cm.inst.T.AB1234", `{}`),
			wantErr: ErrProtocolViolation,
		},
		{
			name:    "missing headers",
			frame:   stomp.Frame{Command: stomp.CmdMessage, Body: `{}`},
			wantErr: ErrProtocolViolation,
		},
		{
			name:    "body not an object",
			frame:   messageFrame("sub-1", "/topic/cm.inst.T.AB1234", `[1,2]`),
			wantErr: ErrProtocolViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCollection(t)
			err := c.ParseRealTimeFrame(tt.frame)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			d, _ := c.DeviceBySerial(tt.serial)
			if p, ok := d.Parameter("TEMP"); !ok || p.Value() != 55.0 {
				t.Errorf("TEMP on %s = %v", tt.serial, p)
			}
		})
	}
}

func TestCollection_NotificationFrame(t *testing.T) {
	c := newTestCollection(t)

	var got string
	c.SetNotificationHandler(func(body string) { got = body })

	rec := &updateRecorder{}
	c.Subscribe(rec.observe)

	if err := c.ParseRealTimeFrame(messageFrame("sub-0", "/queue/notification", "alarm")); err != nil {
		t.Fatalf("ParseRealTimeFrame() error = %v", err)
	}
	if got != "alarm" {
		t.Errorf("notification body = %q, want alarm", got)
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("notification reached %d device observers", n)
	}
}

func TestCollection_Load(t *testing.T) {
	c := NewCollection(DefaultRouting())

	err := c.Load(Snapshot{
		Installations: []Installation{{ID: 1, Serial: "S1", Type: "T"}},
		Statuses: map[string]InstallationStatus{
			"1": {"params": json.RawMessage(`{"TEMP":{"v":42,"ut":null}}`)},
		},
		ParameterLists: map[string]ParameterList{"S1": {"city": json.RawMessage(`"Zagreb"`)}},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	d, err := c.DeviceBySerial("S1")
	if err != nil {
		t.Fatalf("DeviceBySerial(S1) error = %v", err)
	}
	if p, ok := d.Parameter("TEMP"); !ok || p.Value() != 42.0 {
		t.Errorf("TEMP = %v (present %v), want 42", p, ok)
	}
	if d.City() != "Zagreb" {
		t.Errorf("City() = %q, want Zagreb", d.City())
	}
}

func TestCollection_LoadRejectedLeavesCollectionUntouched(t *testing.T) {
	c := newTestCollection(t)

	err := c.Load(Snapshot{
		Installations: []Installation{
			{ID: 1, Serial: "AB1234", Type: "T"},
			{ID: 3, Serial: "EF9012", Type: "T"},
		},
		Statuses: map[string]InstallationStatus{
			"1": {"params": json.RawMessage(`{"TEMP":{"v":50,"ut":null}}`)},
			"3": {"bogus": json.RawMessage(`{}`)},
		},
	})
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("Load() error = %v, want ErrProtocolViolation", err)
	}

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if _, err := c.DeviceBySerial("EF9012"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("DeviceBySerial(EF9012) error = %v, want ErrDeviceNotFound", err)
	}
	d, _ := c.DeviceBySerial("AB1234")
	if _, ok := d.Parameter("TEMP"); ok {
		t.Error("TEMP applied to AB1234 from a rejected snapshot")
	}
}

func TestCollection_LoadRollsBackCreatedDevices(t *testing.T) {
	c := newTestCollection(t)

	// AB1234 keeps id 1, so status for the reported id 9 has no device.
	err := c.Load(Snapshot{
		Installations: []Installation{
			{ID: 9, Serial: "AB1234", Type: "T"},
			{ID: 3, Serial: "EF9012", Type: "T"},
		},
		Statuses: map[string]InstallationStatus{
			"9": {"params": json.RawMessage(`{"TEMP":{"v":50,"ut":null}}`)},
		},
	})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Load() error = %v, want ErrDeviceNotFound", err)
	}

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2 after rollback", c.Len())
	}
	if _, err := c.DeviceBySerial("EF9012"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("DeviceBySerial(EF9012) error = %v, want ErrDeviceNotFound", err)
	}
	if d, err := c.DeviceBySerial("AB1234"); err != nil || d.ID() != 1 {
		t.Errorf("AB1234 = %v, %v; want original device with id 1", d, err)
	}
}

func TestCollection_EndToEnd(t *testing.T) {
	c := NewCollection(DefaultRouting())

	var installations []Installation
	payload := `[{"value":1,"label":"S1","type":"T","place":"P","address":"A","product":"X"}]`
	if err := json.Unmarshal([]byte(payload), &installations); err != nil {
		t.Fatalf("decode installations: %v", err)
	}
	c.ParseInstallations(installations)

	var statuses map[string]InstallationStatus
	if err := json.Unmarshal([]byte(`{"1":{"params":{"TEMP":{"v":42,"ut":null}}}}`), &statuses); err != nil {
		t.Fatalf("decode statuses: %v", err)
	}
	if err := c.ParseInstallationStatuses(statuses); err != nil {
		t.Fatalf("ParseInstallationStatuses() error = %v", err)
	}

	d, err := c.DeviceBySerial("S1")
	if err != nil {
		t.Fatalf("DeviceBySerial(S1) error = %v", err)
	}
	if p, _ := d.Parameter("TEMP"); p.Value() != 42.0 {
		t.Fatalf("TEMP = %v, want 42", p.Value())
	}

	rec := &updateRecorder{}
	c.Subscribe(rec.observe)

	dest := DefaultRouting().Destination(d)
	if dest != "/topic/cm.inst.T.S1" {
		t.Fatalf("Destination() = %q", dest)
	}
	if err := c.ParseRealTimeFrame(messageFrame("sub-1", dest, `{"TEMP":55}`)); err != nil {
		t.Fatalf("ParseRealTimeFrame() error = %v", err)
	}

	if p, _ := d.Parameter("TEMP"); p.Value() != 55.0 {
		t.Errorf("TEMP = %v, want 55", p.Value())
	}

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("observer fired %d times, want 1", len(got))
	}
	if got[0].initial || got[0].serial != "S1" || got[0].name != "TEMP" || got[0].value != 55.0 {
		t.Errorf("observer call = %+v", got[0])
	}
}

func TestCollection_RealTimeCreatesUnknownParameter(t *testing.T) {
	c := newTestCollection(t)

	if err := c.ParseRealTimeFrame(messageFrame("sub-1", "/topic/cm.inst.T.AB1234", `{"NEW":"x"}`)); err != nil {
		t.Fatalf("ParseRealTimeFrame() error = %v", err)
	}

	d, _ := c.DeviceBySerial("AB1234")
	if p, ok := d.Parameter("NEW"); !ok || p.Value() != "x" {
		t.Errorf("NEW = %v, %v", p, ok)
	}
}

func TestCollection_PanickingObserverRecovered(t *testing.T) {
	c := newTestCollection(t)
	c.Subscribe(func(*Device, *Parameter, bool) { panic("consumer bug") })
	rec := &updateRecorder{}
	c.Subscribe(rec.observe)

	if err := c.ParseRealTimeFrame(messageFrame("sub-1", "/topic/cm.inst.T.AB1234", `{"TEMP":1}`)); err != nil {
		t.Fatalf("ParseRealTimeFrame() error = %v", err)
	}
	if n := len(rec.all()); n != 1 {
		t.Errorf("observer after panicking one called %d times, want 1", n)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		ut      any
		want    int64
		wantErr bool
	}{
		{"nil", nil, 0, false},
		{"empty", "", 0, false},
		{"formatted", "1970-01-02 00:00:00", 86400, false},
		{"epoch", float64(1700000000), 1700000000, false},
		{"garbage", "soon", 0, true},
		{"bool", true, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.ut)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.want == 0 {
				if !got.IsZero() {
					t.Errorf("ParseTimestamp(%v) = %v, want zero", tt.ut, got)
				}
				return
			}
			if got.Unix() != tt.want {
				t.Errorf("ParseTimestamp(%v) = %d, want %d", tt.ut, got.Unix(), tt.want)
			}
		})
	}
}

func TestDevice_Snapshot(t *testing.T) {
	c := newTestCollection(t)
	d, _ := c.DeviceBySerial("AB1234")
	d.UpdateParameter("B", 2.0, time.Unix(100, 0))
	d.UpdateParameter("A", 1.0, time.Unix(200, 0))

	s := d.Snapshot()
	if s.Serial != "AB1234" || s.ID != 1 || s.Type != "T" {
		t.Errorf("Snapshot identity = %+v", s)
	}
	if len(s.Parameters) != 2 || s.Parameters[0].Name != "B" || s.Parameters[1].Name != "A" {
		t.Errorf("Snapshot parameters not in insertion order: %+v", s.Parameters)
	}
	if s.Parameters[1].Timestamp != 200 {
		t.Errorf("Snapshot timestamp = %d, want 200", s.Parameters[1].Timestamp)
	}
}
