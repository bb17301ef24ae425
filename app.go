package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"medinote/internal/bootstrap"
	"medinote/internal/config"
	"medinote/internal/domain"
	"medinote/internal/usecase"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	desktop *bootstrap.Desktop
	cfg     config.Config
	bootErr error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	desktop, err := bootstrap.BuildDesktop(ctx, a)
	if err != nil {
		a.bootErr = err
		a.Notify(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.desktop = desktop
	a.cfg = desktop.Config
	a.StageChanged(domain.StageRegistration, domain.ReasonReady)
}

func (a *App) shutdown(context.Context) {
	if a.desktop == nil {
		return
	}
	if err := a.desktop.Close(); err != nil {
		a.desktop.Log.Warn("runtime close failed", "error", err)
	}
}

// Register records the patient and consent for a new consultation.
func (a *App) Register(name, age string, consent bool) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	info := domain.PatientInfo{Name: name, Age: age, Consent: consent}
	if err := a.desktop.Workflow.Register(a.ctx, info); err != nil {
		return domain.Status{}, a.fail(domain.ErrorCodeValidation, err)
	}
	return a.desktop.Workflow.Status(), nil
}

// StartRecording opens the microphone for the registered patient.
func (a *App) StartRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.desktop.Workflow.StartRecording(a.ctx); err != nil {
		return domain.Status{}, a.fail(domain.ErrorCodeCapture, err)
	}
	return a.desktop.Workflow.Status(), nil
}

// PauseRecording closes the microphone without ending the consultation.
func (a *App) PauseRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.desktop.Workflow.PauseRecording(a.ctx); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		return domain.Status{}, a.fail(domain.ErrorCodeCapture, err)
	}
	return a.desktop.Workflow.Status(), nil
}

// EndSession stops recording and saves the consultation once every clip is transcribed.
func (a *App) EndSession() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.desktop.Workflow.EndSession(a.ctx); err != nil {
		return domain.Status{}, a.fail(domain.ErrorCodePersistence, err)
	}
	return a.desktop.Workflow.Status(), nil
}

// RequestDiagnosis ranks candidate diagnoses for the saved transcript.
func (a *App) RequestDiagnosis() ([]domain.Diagnosis, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	diagnoses, err := a.desktop.Workflow.RequestDiagnosis(a.ctx)
	if err != nil {
		return nil, a.fail(domain.ErrorCodeDiagnosis, err)
	}
	return diagnoses, nil
}

// StartNewConsultation discards the current consultation state.
func (a *App) StartNewConsultation() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.desktop.Workflow.StartNewConsultation(a.ctx)
	return a.desktop.Workflow.Status(), nil
}

// GetStatus returns the current workflow status.
func (a *App) GetStatus() domain.Status {
	if a.desktop == nil {
		return domain.Status{
			Stage:        domain.StageRegistration,
			Recorder:     domain.RecorderIdle,
			Conversation: []domain.ConsultationMessage{},
		}
	}
	return a.desktop.Workflow.Status()
}

// ListRecords returns the clinician's saved consultations, newest first.
func (a *App) ListRecords() ([]domain.ConsultationRecord, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.desktop.Records.ListRecords(a.ctx, a.cfg.Auth.OwnerID)
}

// GetRecord loads one saved consultation.
func (a *App) GetRecord(id string) (*domain.ConsultationRecord, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.desktop.Records.GetRecord(a.ctx, id)
}

// PatientHistory lists earlier consultations for the patient, excluding excludeID.
func (a *App) PatientHistory(name, age, excludeID string) ([]domain.ConsultationRecord, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return []domain.ConsultationRecord{}, nil
	}
	records, err := a.desktop.Records.ListPatientRecords(a.ctx, a.cfg.Auth.OwnerID, name, excludeID)
	if err != nil {
		return nil, err
	}
	return usecase.DedupeHistory(records, name, strings.TrimSpace(age)), nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"sttProvider":      a.cfg.Speech.Provider,
		"sttMode":          a.cfg.Speech.Mode,
		"language":         a.cfg.Speech.Language,
		"diagnosisModel":   a.cfg.OpenAI.DiagnosisModel,
		"database":         a.cfg.Database.Driver,
		"rulesFile":        a.cfg.Rules.Path,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.desktop == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// fail surfaces err to the UI and returns it. Stage conflicts are returned
// silently since the UI already reflects the current stage.
func (a *App) fail(code domain.ErrorCode, err error) error {
	if errors.Is(err, usecase.ErrWrongStage) {
		return err
	}
	if errors.Is(err, usecase.ErrInvalidPatient) || errors.Is(err, usecase.ErrConsentRequired) || errors.Is(err, usecase.ErrEmptyTranscript) {
		code = domain.ErrorCodeValidation
	}
	a.Notify(code, err.Error())
	return err
}

// StageChanged emits workflow stage transitions to the frontend.
func (a *App) StageChanged(stage domain.Stage, reason domain.StageReason) {
	a.emit(domain.EventStage, domain.StagePayload{Stage: stage, Reason: reason})
}

// RecorderChanged emits the end-of-session drain state.
func (a *App) RecorderChanged(state domain.RecorderState) {
	a.emit(domain.EventRecorder, state)
}

// MessageAppended emits one transcribed utterance.
func (a *App) MessageAppended(message domain.ConsultationMessage) {
	a.emit(domain.EventMessage, message)
}

// PartialTranscript emits live partial transcript text.
func (a *App) PartialTranscript(text string) {
	a.emit(domain.EventPartial, text)
}

func (a *App) DiagnosesReady(diagnoses []domain.Diagnosis) {
	a.emit(domain.EventDiagnoses, diagnoses)
}

func (a *App) ComplianceReady(recordID string, review *domain.ComplianceReview) {
	a.emit(domain.EventCompliance, domain.CompliancePayload{RecordID: recordID, Review: review})
}

// Notify emits backend errors to the UI.
func (a *App) Notify(code domain.ErrorCode, detail string) {
	a.emit(domain.EventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "시작 실패"
	case domain.ErrorCodeValidation:
		return "입력값을 확인해주세요"
	case domain.ErrorCodeCapture:
		return "마이크 녹음 오류"
	case domain.ErrorCodeAudioStream:
		return "실시간 음성 전송 오류"
	case domain.ErrorCodeTranscription:
		return "음성 변환 오류"
	case domain.ErrorCodeDiagnosis:
		return "진단 분석 오류"
	case domain.ErrorCodeCompliance:
		return "의료법 검토 오류"
	case domain.ErrorCodePersistence:
		return "진료 기록 저장 오류"
	default:
		if detail == "" {
			return "알 수 없는 오류"
		}
		return detail
	}
}
