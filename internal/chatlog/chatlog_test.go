package chatlog_test

import (
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/moksori-live/moksori/internal/chatlog"
	"github.com/moksori-live/moksori/pkg/types"
)

func line(user, message string) types.ChatLine {
	return types.ChatLine{User: user, Message: message}
}

func TestAppend_EvictsOldest(t *testing.T) {
	t.Parallel()
	w := chatlog.New(3)

	w.Append(line("a", "1"), line("b", "2"), line("c", "3"), line("d", "4"))

	got := w.Snapshot()
	want := []types.ChatLine{line("b", "2"), line("c", "3"), line("d", "4")}
	if !slices.Equal(got, want) {
		t.Errorf("Snapshot = %v; want %v", got, want)
	}
}

func TestNew_NonPositiveCapUsesDefault(t *testing.T) {
	t.Parallel()
	w := chatlog.New(0)

	for i := range chatlog.DefaultMaxLines + 5 {
		w.Append(line("u", fmt.Sprintf("%d", i)))
	}
	if got := w.Len(); got != chatlog.DefaultMaxLines {
		t.Errorf("Len = %d; want %d", got, chatlog.DefaultMaxLines)
	}
}

func TestSplitAndAdvance_FirstCallAllRecent(t *testing.T) {
	t.Parallel()
	w := chatlog.New(10)
	w.Append(line("a", "hi"), line("b", "yo"))

	previous, recent := w.SplitAndAdvance()
	if len(previous) != 0 {
		t.Errorf("previous = %v; want empty on first split", previous)
	}
	want := []types.ChatLine{line("a", "hi"), line("b", "yo")}
	if !slices.Equal(recent, want) {
		t.Errorf("recent = %v; want %v", recent, want)
	}
}

func TestSplitAndAdvance_SecondCallSeesOnlyNewLines(t *testing.T) {
	t.Parallel()
	w := chatlog.New(10)
	w.Append(line("a", "hi"))
	w.SplitAndAdvance()

	w.Append(line("b", "yo"), line("c", "sup"))

	previous, recent := w.SplitAndAdvance()
	if want := []types.ChatLine{line("a", "hi")}; !slices.Equal(previous, want) {
		t.Errorf("previous = %v; want %v", previous, want)
	}
	if want := []types.ChatLine{line("b", "yo"), line("c", "sup")}; !slices.Equal(recent, want) {
		t.Errorf("recent = %v; want %v", recent, want)
	}
}

func TestSplitAndAdvance_NoNewLines(t *testing.T) {
	t.Parallel()
	w := chatlog.New(10)
	w.Append(line("a", "hi"))
	w.SplitAndAdvance()

	previous, recent := w.SplitAndAdvance()
	if want := []types.ChatLine{line("a", "hi")}; !slices.Equal(previous, want) {
		t.Errorf("previous = %v; want %v", previous, want)
	}
	if len(recent) != 0 {
		t.Errorf("recent = %v; want empty", recent)
	}
}

func TestSplitAndAdvance_EvictionMovesWatermark(t *testing.T) {
	t.Parallel()
	w := chatlog.New(3)
	w.Append(line("a", "1"), line("b", "2"), line("c", "3"))
	w.SplitAndAdvance()

	// Evicts a and b; the watermark must follow so c stays "seen".
	w.Append(line("d", "4"), line("e", "5"))

	previous, recent := w.SplitAndAdvance()
	if want := []types.ChatLine{line("c", "3")}; !slices.Equal(previous, want) {
		t.Errorf("previous = %v; want %v", previous, want)
	}
	if want := []types.ChatLine{line("d", "4"), line("e", "5")}; !slices.Equal(recent, want) {
		t.Errorf("recent = %v; want %v", recent, want)
	}
}

func TestSplitAndAdvance_FullEvictionPastWatermark(t *testing.T) {
	t.Parallel()
	w := chatlog.New(2)
	w.Append(line("a", "1"), line("b", "2"))
	w.SplitAndAdvance()

	// Everything the watermark covered is evicted.
	w.Append(line("c", "3"), line("d", "4"), line("e", "5"))

	previous, recent := w.SplitAndAdvance()
	if len(previous) != 0 {
		t.Errorf("previous = %v; want empty after full eviction", previous)
	}
	if want := []types.ChatLine{line("d", "4"), line("e", "5")}; !slices.Equal(recent, want) {
		t.Errorf("recent = %v; want %v", recent, want)
	}
}

func TestSnapshot_ReturnsCopy(t *testing.T) {
	t.Parallel()
	w := chatlog.New(10)
	w.Append(line("a", "hi"))

	snap := w.Snapshot()
	snap[0].Message = "mutated"

	if got := w.Snapshot()[0].Message; got != "hi" {
		t.Errorf("window line mutated through snapshot: %q", got)
	}
}

func TestConcurrentAppendAndSplit(t *testing.T) {
	t.Parallel()
	w := chatlog.New(20)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 100 {
			w.Append(line("writer", fmt.Sprintf("%d", i)))
		}
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			previous, recent := w.SplitAndAdvance()
			if len(previous)+len(recent) > 20 {
				t.Errorf("split returned %d lines; window cap is 20", len(previous)+len(recent))
			}
		}
	}()
	wg.Wait()

	if got := w.Len(); got > 20 {
		t.Errorf("Len = %d; want at most 20", got)
	}
}
