package engine

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dougsko/rigmacros/pkg/logging"
	"github.com/dougsko/rigmacros/pkg/recorder"
	"github.com/dougsko/rigmacros/pkg/storage"
)

// RecordingState is the recorder state plus the current session, if any
type RecordingState struct {
	State   recorder.State    `json:"state"`
	Session *recorder.Session `json:"session,omitempty"`
}

// Recording returns the recorder state
func (e *CoreEngine) Recording() RecordingState {
	st := RecordingState{State: e.recorder.State()}
	if s, ok := e.recorder.Session(); ok {
		st.Session = &s
	}
	return st
}

// StartRecording starts a QSO capture
func (e *CoreEngine) StartRecording() (recorder.Session, string, error) {
	s, err := e.recorder.Start()
	if err != nil {
		return s, "", e.recordingError("Error", err)
	}
	msg := "Recording started: " + s.FilePath
	e.recordingEvent(storage.RecordingStarted, s, msg)
	return s, msg, nil
}

// StopRecording stops the capture; stopping while idle is not an error
func (e *CoreEngine) StopRecording() (recorder.StopResult, string, error) {
	res, err := e.recorder.Stop()
	if err != nil {
		return res, "", e.recordingError("Error", err)
	}
	if res.NothingToStop {
		msg := "Not recording"
		e.setMessage(msg)
		return res, msg, nil
	}
	msg := "Recording stopped: " + filepath.Base(res.Session.FilePath)
	e.recordingEvent(storage.RecordingStopped, res.Session, msg)
	return res, msg, nil
}

// SaveRecording moves the stopped recording to dest, or the save dir
func (e *CoreEngine) SaveRecording(dest string) (recorder.Session, string, error) {
	s, err := e.recorder.Save(dest)
	if err != nil {
		if errors.Is(err, recorder.ErrNothingToSave) {
			return s, "", e.recordingError("", err)
		}
		return s, "", e.recordingError("Save failed", err)
	}
	msg := "Saved: " + filepath.Base(s.FilePath)
	e.recordingEvent(storage.RecordingSaved, s, msg)
	return s, msg, nil
}

// DeleteRecording removes the recording. A saved one needs confirm.
func (e *CoreEngine) DeleteRecording(confirm bool) (recorder.Session, string, error) {
	s, err := e.recorder.Delete(confirm)
	if err != nil {
		switch {
		case errors.Is(err, recorder.ErrConfirmationRequired):
			e.setMessage("Delete cancelled")
			return s, "", err
		case errors.Is(err, recorder.ErrNothingToDelete):
			return s, "", e.recordingError("", err)
		}
		return s, "", e.recordingError("Delete error", err)
	}
	msg := "Deleted: " + filepath.Base(s.FilePath)
	e.recordingEvent(storage.RecordingDeleted, s, msg)
	return s, msg, nil
}

// PlayRecording opens the recording in the media player
func (e *CoreEngine) PlayRecording() (recorder.Session, string, error) {
	s, err := e.recorder.Play()
	if err != nil {
		if errors.Is(err, recorder.ErrNothingToPlay) {
			return s, "", e.recordingError("", err)
		}
		return s, "", e.recordingError("Play error", err)
	}
	msg := "Playing: " + filepath.Base(s.FilePath)
	e.setMessage(msg)
	return s, msg, nil
}

// onCaptureExit handles a capture process that died on its own
func (e *CoreEngine) onCaptureExit(s recorder.Session, err error) {
	msg := "Recording stopped unexpectedly: " + filepath.Base(s.FilePath)
	if err != nil {
		msg = fmt.Sprintf("%s (%v)", msg, err)
	}
	logging.Warn("engine", msg)
	e.recordingEvent(storage.RecordingDied, s, msg)
}

// recordingError sets the status line for a failed recorder call. Sentinels
// with an operator-facing text are shown as is.
func (e *CoreEngine) recordingError(prefix string, err error) error {
	msg := err.Error()
	switch {
	case errors.Is(err, recorder.ErrNothingToSave),
		errors.Is(err, recorder.ErrNothingToDelete),
		errors.Is(err, recorder.ErrNothingToPlay):
		msg = capitalize(err.Error())
	case prefix != "":
		msg = fmt.Sprintf("%s: %v", prefix, err)
	}
	e.setMessage(msg)
	return err
}

func (e *CoreEngine) recordingEvent(event string, s recorder.Session, msg string) {
	e.setMessage(msg)
	e.bus.Publish(Event{Type: EventRecording, Message: msg, Data: s})

	if e.store == nil {
		return
	}
	if _, err := e.store.RecordRecording(storage.RecordingEvent{
		SessionID: s.ID,
		Event:     event,
		FilePath:  s.FilePath,
	}); err != nil {
		logging.Warnf("engine", "Failed to record recording event: %v", err)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}
