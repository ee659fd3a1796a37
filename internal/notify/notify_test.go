package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/linnemanlabs/clarion/internal/news"
	"github.com/linnemanlabs/clarion/internal/triage"
)

type fakeChannel struct {
	name string
	err  error
	sent int
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(_ context.Context, _ *triage.Delivery) error {
	c.sent++
	return c.err
}

func sampleDelivery() *triage.Delivery {
	return &triage.Delivery{
		Enriched: &news.EnrichedArticle{
			Article: news.Article{Source: "wire", Title: "标题"},
		},
	}
}

func TestFanout_SendsToAllChannels(t *testing.T) {
	t.Parallel()

	a := &fakeChannel{name: "slack"}
	b := &fakeChannel{name: "telegram"}
	f := NewFanout([]Channel{a, b}, nil, nil)

	if err := f.Send(context.Background(), sampleDelivery()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if a.sent != 1 || b.sent != 1 {
		t.Errorf("sends = %d/%d, want 1/1", a.sent, b.sent)
	}
}

func TestFanout_FailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	a := &fakeChannel{name: "slack", err: errors.New("webhook 500")}
	b := &fakeChannel{name: "telegram"}
	f := NewFanout([]Channel{a, b}, nil, nil)

	err := f.Send(context.Background(), sampleDelivery())
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !strings.Contains(err.Error(), "slack") {
		t.Errorf("error = %q, want channel name", err.Error())
	}
	if b.sent != 1 {
		t.Errorf("telegram sends = %d, want 1 despite slack failure", b.sent)
	}
}

func TestFanout_Observer(t *testing.T) {
	t.Parallel()

	var observed []string
	observe := func(channel string, err error) {
		result := "ok"
		if err != nil {
			result = "err"
		}
		observed = append(observed, channel+":"+result)
	}

	f := NewFanout([]Channel{
		&fakeChannel{name: "slack", err: errors.New("boom")},
		&fakeChannel{name: "telegram"},
	}, observe, nil)

	_ = f.Send(context.Background(), sampleDelivery())

	if len(observed) != 2 || observed[0] != "slack:err" || observed[1] != "telegram:ok" {
		t.Errorf("observed = %v", observed)
	}
}

func TestFanout_Empty(t *testing.T) {
	t.Parallel()

	f := NewFanout(nil, nil, nil)
	if err := f.Send(context.Background(), sampleDelivery()); err != nil {
		t.Errorf("empty fanout should be a no-op, got: %v", err)
	}
}
