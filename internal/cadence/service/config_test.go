package service

import (
	"context"
	"testing"

	"crm_backend/internal/cadence/domain"
	"crm_backend/internal/events"
	"crm_backend/platform/apperr"

	"github.com/google/uuid"
)

const fmtExpectedKind = "expected %s error, got %v"

type configFixture struct {
	tenantID   uuid.UUID
	pipelineID uuid.UUID
	store      *fakeConfigStore
	directory  *fakeDirectory
	bus        *recordingBus
	svc        *ConfigService
}

func newConfigFixture(t *testing.T) *configFixture {
	t.Helper()
	f := &configFixture{
		tenantID:   uuid.New(),
		pipelineID: uuid.New(),
		store:      newFakeConfigStore(),
		bus:        &recordingBus{},
	}
	f.directory = &fakeDirectory{stages: []domain.Stage{
		{ID: uuid.New(), PipelineID: f.pipelineID, Name: "Contacted", OrderIndex: 1},
		{ID: uuid.New(), PipelineID: f.pipelineID, Name: "Archive", OrderIndex: 999},
	}}
	svc, err := NewConfigService(f.store, f.directory, f.bus, nil, nil)
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	f.svc = svc
	return f
}

func (f *configFixture) input(stageName string, templates ...TemplateInput) UpsertStageConfigInput {
	return UpsertStageConfigInput{
		TenantID:   f.tenantID,
		PipelineID: f.pipelineID,
		StageName:  stageName,
		IsActive:   true,
		Templates:  templates,
	}
}

func callTemplate(title string, order int) TemplateInput {
	return TemplateInput{
		TaskOrder:  order,
		Channel:    string(domain.ChannelCall),
		ActionType: string(domain.ActionCall),
		Title:      title,
		IsActive:   true,
	}
}

func TestUpsertStageConfigCreatesAndUpdatesInPlace(t *testing.T) {
	f := newConfigFixture(t)

	first, err := f.svc.UpsertStageConfig(context.Background(), f.input("Contacted", callTemplate("Intro call", 0)))
	if err != nil || !first.Success {
		t.Fatalf("unexpected failure: %v %+v", err, first)
	}

	second, err := f.svc.UpsertStageConfig(context.Background(), f.input("Contacted",
		callTemplate("Intro call v2", 0),
		callTemplate("Second call", 1),
	))
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}

	if second.Config.ID != first.Config.ID {
		t.Fatal("expected the existing config row to be updated in place")
	}
	if len(second.Config.Templates) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(second.Config.Templates))
	}
	if second.Config.Templates[0].ID != first.Config.Templates[0].ID {
		t.Fatal("expected the template at the same task order to keep its id")
	}
}

func TestUpsertStageConfigNeverDeletesSiblings(t *testing.T) {
	f := newConfigFixture(t)
	sibling := f.store.seed(f.tenantID, f.pipelineID, "Proposal", template("Send proposal", 0, 0))

	if _, err := f.svc.UpsertStageConfig(context.Background(), f.input("Contacted", callTemplate("Intro call", 0))); err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}

	got, err := f.store.GetByStage(context.Background(), f.pipelineID, "Proposal", f.tenantID)
	if err != nil {
		t.Fatalf("sibling config was removed: %v", err)
	}
	if got.ID != sibling.ID || len(got.Templates) != 1 {
		t.Fatalf("sibling config was modified: %+v", got)
	}
}

func TestUpsertStageConfigRejectsFinalStages(t *testing.T) {
	reserved := 998
	cases := []struct {
		name  string
		input func(f *configFixture) UpsertStageConfigInput
	}{
		{name: "outcome name", input: func(f *configFixture) UpsertStageConfigInput {
			return f.input("Closed Won", callTemplate("Thank you", 0))
		}},
		{name: "explicit reserved order", input: func(f *configFixture) UpsertStageConfigInput {
			in := f.input("Archive", callTemplate("Thank you", 0))
			in.StageOrder = &reserved
			return in
		}},
		{name: "order from stage directory", input: func(f *configFixture) UpsertStageConfigInput {
			return f.input("Archive", callTemplate("Thank you", 0))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newConfigFixture(t)

			result, err := f.svc.UpsertStageConfig(context.Background(), tc.input(f))

			if !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf(fmtExpectedKind, apperr.KindValidation, err)
			}
			if result.Success || result.Message == "" {
				t.Fatalf("expected descriptive failure result, got %+v", result)
			}
			if f.store.upserts != 0 {
				t.Fatal("final stage config must not be written")
			}
		})
	}
}

func TestUpsertStageConfigValidatesTemplates(t *testing.T) {
	f := newConfigFixture(t)

	badChannel := callTemplate("Fax", 0)
	badChannel.Channel = "fax"

	negativeOffset := callTemplate("Past", 0)
	negativeOffset.DayOffset = -1

	inputs := map[string]UpsertStageConfigInput{
		"unknown channel": f.input("Contacted", badChannel),
		"negative offset": f.input("Contacted", negativeOffset),
		"missing title":   f.input("Contacted", callTemplate("", 0)),
		"duplicate order": f.input("Contacted", callTemplate("A", 1), callTemplate("B", 1)),
		"missing stage":   f.input("  ", callTemplate("A", 0)),
	}

	for name, input := range inputs {
		if _, err := f.svc.UpsertStageConfig(context.Background(), input); !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("%s: "+fmtExpectedKind, name, apperr.KindValidation, err)
		}
	}
	if f.store.upserts != 0 {
		t.Fatal("invalid input must not be written")
	}
}

func TestUpsertStageConfigPublishesSavedEvent(t *testing.T) {
	f := newConfigFixture(t)

	if _, err := f.svc.UpsertStageConfig(context.Background(), f.input("Contacted", callTemplate("Intro call", 0))); err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}

	published := f.bus.events()
	if len(published) != 1 {
		t.Fatalf("expected one event, got %d", len(published))
	}
	saved, ok := published[0].(events.CadenceConfigSaved)
	if !ok || saved.StageName != "Contacted" || saved.TemplateCount != 1 {
		t.Fatalf("unexpected event %+v", published[0])
	}
}

func TestLoadConfigsReturnsPipelineConfigs(t *testing.T) {
	f := newConfigFixture(t)
	f.store.seed(f.tenantID, f.pipelineID, "Contacted", template("Intro call", 0, 0))
	f.store.seed(uuid.New(), f.pipelineID, "Contacted", template("Other tenant", 0, 0))

	result, err := f.svc.LoadConfigs(context.Background(), f.pipelineID, f.tenantID)
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if !result.Success || len(result.Configs) != 1 {
		t.Fatalf("expected one tenant config, got %+v", result)
	}
}

func TestDeleteConfigNotFound(t *testing.T) {
	f := newConfigFixture(t)

	result, err := f.svc.DeleteConfig(context.Background(), f.pipelineID, f.tenantID)

	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf(fmtExpectedKind, apperr.KindNotFound, err)
	}
	if result.Success {
		t.Fatal("expected failure result")
	}
}

func TestDeleteConfigByIDRespectsTenant(t *testing.T) {
	f := newConfigFixture(t)
	cfg := f.store.seed(f.tenantID, f.pipelineID, "Contacted", template("Intro call", 0, 0))

	if _, err := f.svc.DeleteConfigByID(context.Background(), cfg.ID, uuid.New()); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf(fmtExpectedKind, apperr.KindNotFound, err)
	}

	result, err := f.svc.DeleteConfigByID(context.Background(), cfg.ID, f.tenantID)
	if err != nil || !result.Success {
		t.Fatalf("expected delete to succeed, got %v %+v", err, result)
	}
}

func TestGetConfigForStage(t *testing.T) {
	f := newConfigFixture(t)
	f.store.seed(f.tenantID, f.pipelineID, "Contacted", template("Intro call", 0, 0))

	found, err := f.svc.GetConfigForStage(context.Background(), f.pipelineID, "Contacted", f.tenantID)
	if err != nil || found.Config == nil {
		t.Fatalf("expected config, got %v %+v", err, found)
	}

	missing, err := f.svc.GetConfigForStage(context.Background(), f.pipelineID, "Proposal", f.tenantID)
	if !apperr.Is(err, apperr.KindNotFound) || missing.Success {
		t.Fatalf("expected not found result, got %v %+v", err, missing)
	}
}

func TestReplacePipelineConfigsReplacesEverything(t *testing.T) {
	f := newConfigFixture(t)
	f.store.seed(f.tenantID, f.pipelineID, "Proposal", template("Send proposal", 0, 0))

	result, err := f.svc.ReplacePipelineConfigs(context.Background(), f.pipelineID, f.tenantID, []UpsertStageConfigInput{
		{StageName: "Contacted", IsActive: true, Templates: []TemplateInput{callTemplate("Intro call", 0)}},
	})
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if len(result.Configs) != 1 || result.Configs[0].StageName != "Contacted" {
		t.Fatalf("expected only the replacement config, got %+v", result.Configs)
	}
	if f.store.replaceCalls != 1 {
		t.Fatalf("expected one bulk replace, got %d", f.store.replaceCalls)
	}
}
