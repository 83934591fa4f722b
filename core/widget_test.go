package widget

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-widget/core/frames"
	"github.com/koscakluka/ema-widget/core/messages"
)

func TestSendPlaysReplyAndFinalizes(t *testing.T) {
	stream := newStreamStub()
	opener := &openerStub{streams: []*streamStub{stream}}
	rec := &recorder{}
	w := newTestWidget(opener, rec)
	defer w.Close()

	turn, err := w.Send(context.Background(), "salom")
	if err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}
	if turn.State != TurnStateSending {
		t.Fatalf("expected new turn to be sending, got %s", turn.State)
	}

	stream.Push("data: {\"type\":\"token\",\"content\":\"Hi\"}\n", "data: {\"type\":\"done\"}\n")
	final := waitForState(t, rec, turn.ID, TurnStateFinalized)
	if final.Err != nil {
		t.Fatalf("expected no turn error, got %v", final.Err)
	}

	if got := rec.Contents(turn.AssistantMessageID); !slices.Equal(got, []string{"", "H", "Hi"}) {
		t.Fatalf("expected placeholder to go through %q, got %q", []string{"", "H", "Hi"}, got)
	}
	expectedStates := []TurnState{TurnStateSending, TurnStateStreaming, TurnStatePlaying, TurnStateFinalized}
	if got := rec.States(turn.ID); !slices.Equal(got, expectedStates) {
		t.Fatalf("expected states %v, got %v", expectedStates, got)
	}

	conversation := w.Conversation()
	if len(conversation.Messages) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(conversation.Messages))
	}
	user, assistant := conversation.Messages[0], conversation.Messages[1]
	if user.Role != messages.RoleUser || user.Content != "salom" {
		t.Fatalf("expected user message first, got %+v", user)
	}
	if assistant.ID != turn.AssistantMessageID || assistant.Role != messages.RoleAssistant || assistant.Content != "Hi" {
		t.Fatalf("expected finalized assistant message, got %+v", assistant)
	}
	if conversation.Status != "" {
		t.Fatalf("expected status to be cleared, got %q", conversation.Status)
	}
	if _, ok := w.ActiveTurn(); ok {
		t.Fatalf("expected no active turn after finalizing")
	}

	requests := opener.Requests()
	if len(requests) != 1 || requests[0].Mode != "user" || requests[0].Question != "salom" {
		t.Fatalf("expected one user mode request, got %+v", requests)
	}
}

func TestStatusIndicator(t *testing.T) {
	stream := newStreamStub()
	rec := &recorder{}
	w := newTestWidget(&openerStub{streams: []*streamStub{stream}}, rec)
	defer w.Close()

	turn, err := w.Send(context.Background(), "q")
	if err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}
	if got := w.Status(); got != "typing..." {
		t.Fatalf("expected pending status, got %q", got)
	}

	stream.Push(`{"type":"status","content":"searching"}` + "\n")
	waitFor(t, "status update", func() bool { return w.Status() == "searching" })
	waitForState(t, rec, turn.ID, TurnStateStreaming)

	for _, message := range w.Messages() {
		if strings.Contains(message.Content, "searching") {
			t.Fatalf("expected status to stay out of message content, got %+v", message)
		}
	}

	stream.Push(`{"type":"done"}` + "\n")
	waitForState(t, rec, turn.ID, TurnStateFinalized)
	if got := w.Status(); got != "" {
		t.Fatalf("expected status to be cleared, got %q", got)
	}
}

func TestMediaEventAppendsSanitizedMessage(t *testing.T) {
	stream := newStreamStub()
	rec := &recorder{}
	w := newTestWidget(&openerStub{streams: []*streamStub{stream}}, rec)
	defer w.Close()

	turn, err := w.Send(context.Background(), "chart")
	if err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}
	stream.Push(
		`{"type":"token","content":"Mana:"}`+"\n",
		`{"type":"media","content":"<img src=x onerror=alert(1)>"}`+"\n",
		`{"type":"done"}`+"\n",
	)
	waitForState(t, rec, turn.ID, TurnStateFinalized)

	list := w.Messages()
	if len(list) != 3 {
		t.Fatalf("expected user, placeholder and media messages, got %d", len(list))
	}
	placeholder, media := list[1], list[2]
	if placeholder.ID != turn.AssistantMessageID || placeholder.Content != "Mana:" || placeholder.IsMedia() {
		t.Fatalf("expected placeholder to keep the typed text, got %+v", placeholder)
	}
	if !media.IsMedia() || media.Role != messages.RoleAssistant || media.ID == placeholder.ID {
		t.Fatalf("expected an independent assistant media message, got %+v", media)
	}
	if strings.Contains(media.Content, "onerror") || !strings.Contains(media.Content, "<img") {
		t.Fatalf("expected sanitized image, got %q", media.Content)
	}
}

func TestSupersededTurnIgnoresLateTokens(t *testing.T) {
	first := newStreamStub()
	first.stubborn = true
	second := newStreamStub()
	rec := &recorder{}
	w := newTestWidget(&openerStub{streams: []*streamStub{first, second}}, rec, WithPlaybackStart(PlaybackOnFirstToken))
	defer w.Close()

	firstTurn, err := w.Send(context.Background(), "first")
	if err != nil {
		t.Fatalf("expected first send to succeed, got %v", err)
	}
	first.Push(`{"type":"token","content":"old"}` + "\n")
	waitFor(t, "first reply to play", func() bool {
		message, _ := messageByID(w.Messages(), firstTurn.AssistantMessageID)
		return message.Content == "old"
	})

	secondSent := make(chan Turn, 1)
	go func() {
		turn, err := w.Send(context.Background(), "second")
		if err != nil {
			t.Errorf("expected second send to succeed, got %v", err)
		}
		secondSent <- turn
	}()

	waitForState(t, rec, firstTurn.ID, TurnStateCancelled)
	first.Push(`{"type":"token","content":" LATE"}`+"\n", `{"type":"media","content":"<b>late</b>"}`+"\n")

	var secondTurn Turn
	select {
	case secondTurn = <-secondSent:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected second send to return once the first turn stopped")
	}

	second.Push(`{"type":"token","content":"new"}`+"\n", `{"type":"done"}`+"\n")
	waitForState(t, rec, secondTurn.ID, TurnStateFinalized)

	list := w.Messages()
	if len(list) != 4 {
		t.Fatalf("expected two exchanges and no late media, got %d messages", len(list))
	}
	oldReply, _ := messageByID(list, firstTurn.AssistantMessageID)
	newReply, _ := messageByID(list, secondTurn.AssistantMessageID)
	if oldReply.Content != "old" {
		t.Fatalf("expected superseded reply to stay frozen, got %q", oldReply.Content)
	}
	if newReply.Content != "new" {
		t.Fatalf("expected new reply to be unaffected, got %q", newReply.Content)
	}
	if !first.IsClosed() {
		t.Fatalf("expected superseded stream to be closed")
	}
}

func TestSendCancelsPreviousStreamBeforeOpening(t *testing.T) {
	first := newStreamStub()
	second := newStreamStub()
	rec := &recorder{}
	w := newTestWidget(&openerStub{streams: []*streamStub{first, second}}, rec)
	defer w.Close()

	firstTurn, _ := w.Send(context.Background(), "first")
	first.Push(`{"type":"token","content":"partial"}` + "\n")

	secondTurn, err := w.Send(context.Background(), "second")
	if err != nil {
		t.Fatalf("expected second send to succeed, got %v", err)
	}
	if !first.IsClosed() {
		t.Fatalf("expected first stream to be closed before the second turn started")
	}
	if state, _ := rec.Turn(firstTurn.ID); state.State != TurnStateCancelled {
		t.Fatalf("expected first turn to be cancelled, got %s", state.State)
	}

	active, ok := w.ActiveTurn()
	if !ok || active.ID != secondTurn.ID {
		t.Fatalf("expected second turn to be the only active turn, got %+v", active)
	}
	second.End()
	waitForState(t, rec, secondTurn.ID, TurnStateFinalized)
}

func TestTransportErrorFinalizesWithPartialContent(t *testing.T) {
	stream := newStreamStub()
	rec := &recorder{}
	w := newTestWidget(&openerStub{streams: []*streamStub{stream}}, rec, WithPlaybackStart(PlaybackOnFirstToken))
	defer w.Close()

	turn, _ := w.Send(context.Background(), "q")
	stream.Push(`{"type":"token","content":"part"}` + "\n")
	waitFor(t, "partial reply", func() bool {
		message, _ := messageByID(w.Messages(), turn.AssistantMessageID)
		return message.Content == "part"
	})

	connectionReset := errors.New("connection reset")
	stream.Fail(connectionReset)
	final := waitForState(t, rec, turn.ID, TurnStateFinalized)

	if !errors.Is(final.Err, ErrTransport) || !errors.Is(final.Err, connectionReset) {
		t.Fatalf("expected a transport error, got %v", final.Err)
	}
	message, _ := messageByID(w.Messages(), turn.AssistantMessageID)
	if message.Content != "part" {
		t.Fatalf("expected partial content to stay, got %q", message.Content)
	}
	if got := w.Status(); got != "" {
		t.Fatalf("expected status to be cleared, got %q", got)
	}
}

func TestOpenFailureFinalizesEmptyTurn(t *testing.T) {
	rec := &recorder{}
	w := newTestWidget(&openerStub{err: errors.New("dial failed")}, rec)
	defer w.Close()

	turn, err := w.Send(context.Background(), "q")
	if err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}

	final := waitForState(t, rec, turn.ID, TurnStateFinalized)
	if !errors.Is(final.Err, ErrTransport) {
		t.Fatalf("expected a transport error, got %v", final.Err)
	}
	message, _ := messageByID(w.Messages(), turn.AssistantMessageID)
	if message.Content != "" {
		t.Fatalf("expected empty reply, got %q", message.Content)
	}
	if got := w.Status(); got != "" {
		t.Fatalf("expected status to be cleared, got %q", got)
	}
}

func TestErrorEventIsTreatedLikeDone(t *testing.T) {
	stream := newStreamStub()
	rec := &recorder{}
	w := newTestWidget(&openerStub{streams: []*streamStub{stream}}, rec, WithFraming(frames.EventStreamFraming{}))
	defer w.Close()

	turn, _ := w.Send(context.Background(), "q")
	stream.Push("event: delta\ndata: {\"v\":\"ok\"}\n\n", "event: error\ndata: {\"v\":\"quota exceeded\"}\n\n")
	final := waitForState(t, rec, turn.ID, TurnStateFinalized)

	if !errors.Is(final.Err, ErrStream) || !strings.Contains(final.Err.Error(), "quota exceeded") {
		t.Fatalf("expected stream error with reason, got %v", final.Err)
	}
	message, _ := messageByID(w.Messages(), turn.AssistantMessageID)
	if message.Content != "ok" {
		t.Fatalf("expected text before the error to play, got %q", message.Content)
	}
}

func TestStreamEndWithoutDoneFinalizes(t *testing.T) {
	stream := newStreamStub()
	rec := &recorder{}
	w := newTestWidget(&openerStub{streams: []*streamStub{stream}}, rec)
	defer w.Close()

	turn, _ := w.Send(context.Background(), "q")
	stream.Push(`{"type":"token","content":"bye"}`+"\n", `{"type":"token","content":"unterminated"}`)
	stream.End()

	final := waitForState(t, rec, turn.ID, TurnStateFinalized)
	if final.Err != nil {
		t.Fatalf("expected a clean end of stream, got %v", final.Err)
	}
	message, _ := messageByID(w.Messages(), turn.AssistantMessageID)
	if message.Content != "bye" {
		t.Fatalf("expected unterminated trailing frame to be discarded, got %q", message.Content)
	}
}

func TestTrailingFrameCanBeParsed(t *testing.T) {
	stream := newStreamStub()
	rec := &recorder{}
	w := newTestWidget(&openerStub{streams: []*streamStub{stream}}, rec, WithTrailingPolicy(frames.TrailingAsFrame))
	defer w.Close()

	turn, _ := w.Send(context.Background(), "q")
	stream.Push(`{"type":"token","content":"a"}`+"\n", `{"type":"token","content":"b"}`)
	stream.End()

	waitForState(t, rec, turn.ID, TurnStateFinalized)
	message, _ := messageByID(w.Messages(), turn.AssistantMessageID)
	if message.Content != "ab" {
		t.Fatalf("expected trailing frame to be parsed, got %q", message.Content)
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	stream := newStreamStub()
	rec := &recorder{}
	var dropped atomic.Int32
	w := newTestWidget(&openerStub{streams: []*streamStub{stream}}, rec, WithOnFrameDropped(func(*frames.ParseError) {
		dropped.Add(1)
	}))
	defer w.Close()

	turn, _ := w.Send(context.Background(), "q")
	stream.Push(
		`{"type":"token","content":"a"}`+"\n",
		"{not json\n",
		`{"type":"unknown","content":"x"}`+"\n",
		`{"type":"token","content":"b"}`+"\n",
		`{"type":"done"}`+"\n",
	)
	waitForState(t, rec, turn.ID, TurnStateFinalized)

	message, _ := messageByID(w.Messages(), turn.AssistantMessageID)
	if message.Content != "ab" {
		t.Fatalf("expected malformed frames to be skipped, got %q", message.Content)
	}
	if got := dropped.Load(); got != 2 {
		t.Fatalf("expected 2 dropped frames, got %d", got)
	}
}

func TestCancelFreezesActiveTurn(t *testing.T) {
	stream := newStreamStub()
	rec := &recorder{}
	w := newTestWidget(&openerStub{streams: []*streamStub{stream}}, rec, WithPlaybackStart(PlaybackOnFirstToken))
	defer w.Close()

	turn, _ := w.Send(context.Background(), "q")
	stream.Push(`{"type":"token","content":"half"}` + "\n")
	waitFor(t, "partial reply", func() bool {
		message, _ := messageByID(w.Messages(), turn.AssistantMessageID)
		return message.Content == "half"
	})

	if !w.Cancel() {
		t.Fatalf("expected an active turn to be cancelled")
	}
	if w.Cancel() {
		t.Fatalf("expected second cancel to be a no-op")
	}
	waitForState(t, rec, turn.ID, TurnStateCancelled)
	if !stream.IsClosed() {
		t.Fatalf("expected stream to be closed on cancel")
	}
	if got := w.Status(); got != "" {
		t.Fatalf("expected status to be cleared on cancel, got %q", got)
	}
	message, _ := messageByID(w.Messages(), turn.AssistantMessageID)
	if message.Content != "half" {
		t.Fatalf("expected cancelled reply to keep its content, got %q", message.Content)
	}
}

func TestSendRejectsEmptyQuestion(t *testing.T) {
	w := newTestWidget(&openerStub{}, &recorder{})
	defer w.Close()

	for _, question := range []string{"", "   ", "\n\t"} {
		if _, err := w.Send(context.Background(), question); !errors.Is(err, ErrEmptyQuestion) {
			t.Fatalf("expected ErrEmptyQuestion for %q, got %v", question, err)
		}
	}
	if got := len(w.Messages()); got != 0 {
		t.Fatalf("expected no messages, got %d", got)
	}
}

func TestSendAfterClose(t *testing.T) {
	stream := newStreamStub()
	rec := &recorder{}
	w := newTestWidget(&openerStub{streams: []*streamStub{stream}}, rec)

	turn, _ := w.Send(context.Background(), "q")
	w.Close()

	if state, _ := rec.Turn(turn.ID); state.State != TurnStateCancelled {
		t.Fatalf("expected close to cancel the active turn, got %s", state.State)
	}
	if _, err := w.Send(context.Background(), "again"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := w.SetMode(context.Background(), "admin"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from SetMode, got %v", err)
	}
}

func TestSetModeResetsConversationAndLoadsHistory(t *testing.T) {
	stream := newStreamStub()
	rec := &recorder{}
	history := historyStub{messages: []messages.Message{
		messages.New(messages.RoleUser, "eski savol", messages.KindText),
		messages.New(messages.RoleAssistant, `<p onclick="x()">jadval</p>`, messages.KindMedia),
	}}
	w := newTestWidget(&openerStub{streams: []*streamStub{stream}}, rec, WithHistory(history))
	defer w.Close()

	turn, _ := w.Send(context.Background(), "q")
	if err := w.SetMode(context.Background(), "admin"); err != nil {
		t.Fatalf("expected mode switch to succeed, got %v", err)
	}

	if state, _ := rec.Turn(turn.ID); state.State != TurnStateCancelled {
		t.Fatalf("expected mode switch to cancel the active turn, got %s", state.State)
	}
	if got := w.Mode(); got != "admin" {
		t.Fatalf("expected admin mode, got %q", got)
	}

	list := w.Messages()
	if len(list) != 2 {
		t.Fatalf("expected only history after reset, got %d messages", len(list))
	}
	if list[0].Content != "eski savol" {
		t.Fatalf("expected history order to be kept, got %+v", list)
	}
	if strings.Contains(list[1].Content, "onclick") || !strings.Contains(list[1].Content, "jadval") {
		t.Fatalf("expected media history to be sanitized, got %q", list[1].Content)
	}
}

func TestSetModeHistoryFailureKeepsReset(t *testing.T) {
	w := newTestWidget(&openerStub{}, &recorder{}, WithHistory(historyStub{err: errors.New("unauthorized")}))
	defer w.Close()

	if err := w.SetMode(context.Background(), "user"); err == nil {
		t.Fatalf("expected history error to be returned")
	}
	if got := w.Mode(); got != "user" {
		t.Fatalf("expected mode to be switched anyway, got %q", got)
	}
}

func TestConversationSnapshotIsACopy(t *testing.T) {
	stream := newStreamStub()
	rec := &recorder{}
	w := newTestWidget(&openerStub{streams: []*streamStub{stream}}, rec)
	defer w.Close()

	w.Send(context.Background(), "original")
	list := w.Messages()
	list[0].Content = "changed"

	if got := w.Messages()[0].Content; got != "original" {
		t.Fatalf("expected internal state to be unaffected, got %q", got)
	}
}

func TestSnapshotsAreDeliveredInOrder(t *testing.T) {
	stream := newStreamStub()
	rec := &recorder{}
	w := newTestWidget(&openerStub{streams: []*streamStub{stream}}, rec, WithPlaybackStart(PlaybackOnFirstToken))
	defer w.Close()

	turn, _ := w.Send(context.Background(), "q")
	stream.Push(`{"type":"token","content":"one two three"}`+"\n", `{"type":"status","content":"s"}`+"\n", `{"type":"done"}`+"\n")
	waitForState(t, rec, turn.ID, TurnStateFinalized)

	rec.mu.Lock()
	conversations := slices.Clone(rec.conversations)
	rec.mu.Unlock()
	for i := 1; i < len(conversations); i++ {
		if conversations[i].version <= conversations[i-1].version {
			t.Fatalf("expected strictly newer snapshots, got version %d after %d", conversations[i].version, conversations[i-1].version)
		}
	}

	previous := ""
	for _, content := range rec.Contents(turn.AssistantMessageID) {
		if !strings.HasPrefix(content, previous) {
			t.Fatalf("expected placeholder content to only grow, got %q after %q", content, previous)
		}
		previous = content
	}
}
