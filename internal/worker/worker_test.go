package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamGarden/internal/database"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/storage"
	"dreamGarden/internal/tasks"
)

type published struct {
	channel string
	msg     PortfolioNotifyMessage
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var msg PortfolioNotifyMessage
	if data, ok := message.([]byte); ok {
		_ = json.Unmarshal(data, &msg)
	}
	f.sent = append(f.sent, published{channel: channel, msg: msg})
	return redis.NewIntResult(1, nil)
}

type fakePortfolios struct {
	regenerateErr error
	snapshots     map[uint]*database.Portfolio
	pdfKeys       map[uint]string
}

func newFakePortfolios() *fakePortfolios {
	return &fakePortfolios{snapshots: map[uint]*database.Portfolio{}, pdfKeys: map[uint]string{}}
}

func (f *fakePortfolios) Regenerate(_ context.Context, studentID uint) (*database.Portfolio, error) {
	if f.regenerateErr != nil {
		return nil, f.regenerateErr
	}
	p := &database.Portfolio{StudentID: studentID, CompletionPct: 35, SummaryText: "요약"}
	f.snapshots[studentID] = p
	return p, nil
}

func (f *fakePortfolios) Student(_ context.Context, studentID uint) (*database.Student, error) {
	s := &database.Student{Name: "민준", Affiliation: "서울중"}
	s.ID = studentID
	return s, nil
}

func (f *fakePortfolios) SetPDFObjectKey(_ context.Context, studentID uint, key string) error {
	f.pdfKeys[studentID] = key
	return nil
}

type fakeGuardians map[uint][]uint

func (f fakeGuardians) Guardians(_ context.Context, studentID uint) ([]uint, error) {
	return f[studentID], nil
}

type fakeUploader struct {
	objects map[string][]byte
	err     error
}

func (f *fakeUploader) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, _ := io.ReadAll(reader)
	f.objects[objectName] = data
	return &minio.UploadInfo{Key: objectName, Size: int64(len(data))}, nil
}

func (f *fakeUploader) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://minio.example.com/" + objectKey + "?sig=1", nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func portfolioTask(t *testing.T, taskType string, p tasks.PortfolioPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return asynq.NewTask(taskType, data)
}

func TestRegenerateHandlerNotifiesGuardians(t *testing.T) {
	pub := &fakePublisher{}
	h := NewRegenerateTaskHandler(newFakePortfolios(), fakeGuardians{4: {10, 11}}, NewNotifier(pub), discardLogger())

	err := h.ProcessTask(context.Background(), portfolioTask(t, tasks.TypePortfolioRegenerate, tasks.PortfolioPayload{StudentID: 4, CorrelationID: "c-1"}))
	require.NoError(t, err)

	require.Len(t, pub.sent, 2)
	assert.Equal(t, "user_notify:10", pub.sent[0].channel)
	assert.Equal(t, "user_notify:11", pub.sent[1].channel)
	assert.Equal(t, EventPortfolioUpdated, pub.sent[0].msg.Event)
	assert.Equal(t, 35, pub.sent[0].msg.CompletionPct)
	assert.Equal(t, "c-1", pub.sent[0].msg.CorrelationID)
}

func TestRegenerateHandlerSkipsMissingStudent(t *testing.T) {
	portfolios := newFakePortfolios()
	portfolios.regenerateErr = errcode.New(errcode.NotFound, "student 4 not found")
	pub := &fakePublisher{}
	h := NewRegenerateTaskHandler(portfolios, fakeGuardians{}, NewNotifier(pub), discardLogger())

	err := h.ProcessTask(context.Background(), portfolioTask(t, tasks.TypePortfolioRegenerate, tasks.PortfolioPayload{StudentID: 4}))
	assert.NoError(t, err)
	assert.Empty(t, pub.sent)
}

func TestRegenerateHandlerReturnsTransientErrors(t *testing.T) {
	portfolios := newFakePortfolios()
	portfolios.regenerateErr = errcode.Wrap(errors.New("conn reset"), "load records")
	h := NewRegenerateTaskHandler(portfolios, fakeGuardians{}, NewNotifier(&fakePublisher{}), discardLogger())

	err := h.ProcessTask(context.Background(), portfolioTask(t, tasks.TypePortfolioRegenerate, tasks.PortfolioPayload{StudentID: 4}))
	assert.ErrorIs(t, err, errcode.Transient)
}

func TestRegenerateHandlerRejectsBadPayload(t *testing.T) {
	h := NewRegenerateTaskHandler(newFakePortfolios(), fakeGuardians{}, NewNotifier(&fakePublisher{}), discardLogger())
	err := h.ProcessTask(context.Background(), asynq.NewTask(tasks.TypePortfolioRegenerate, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPDFHandlerUploadsAndNotifiesRequester(t *testing.T) {
	portfolios := newFakePortfolios()
	uploader := &fakeUploader{objects: map[string][]byte{}}
	pub := &fakePublisher{}
	var renderedHTML string
	render := func(_ context.Context, html string) ([]byte, error) {
		renderedHTML = html
		return []byte("%PDF-1.7"), nil
	}
	h := NewPDFTaskHandler(portfolios, fakeGuardians{4: {10, 11}}, uploader, render, NewNotifier(pub), discardLogger())

	err := h.ProcessTask(context.Background(), portfolioTask(t, tasks.TypePortfolioPDF, tasks.PortfolioPayload{StudentID: 4, RequestedBy: 11}))
	require.NoError(t, err)

	key := storage.PortfolioPDFKey(4)
	assert.Equal(t, []byte("%PDF-1.7"), uploader.objects[key])
	assert.Equal(t, key, portfolios.pdfKeys[4])
	assert.Contains(t, renderedHTML, "민준")

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "user_notify:11", pub.sent[0].channel)
	assert.Equal(t, "completed", pub.sent[0].msg.Status)
	assert.Contains(t, pub.sent[0].msg.PDFURL, key)
}

func TestPDFHandlerNotifiesGuardiansWithoutRequester(t *testing.T) {
	pub := &fakePublisher{}
	h := NewPDFTaskHandler(newFakePortfolios(), fakeGuardians{4: {10, 11}}, &fakeUploader{objects: map[string][]byte{}},
		func(context.Context, string) ([]byte, error) { return []byte("pdf"), nil }, NewNotifier(pub), discardLogger())

	require.NoError(t, h.ProcessTask(context.Background(), portfolioTask(t, tasks.TypePortfolioPDF, tasks.PortfolioPayload{StudentID: 4})))
	assert.Len(t, pub.sent, 2)
}

func TestPDFHandlerRenderFailureIsRetried(t *testing.T) {
	portfolios := newFakePortfolios()
	pub := &fakePublisher{}
	h := NewPDFTaskHandler(portfolios, fakeGuardians{}, &fakeUploader{objects: map[string][]byte{}},
		func(context.Context, string) ([]byte, error) { return nil, errors.New("chromium crashed") }, NewNotifier(pub), discardLogger())

	err := h.ProcessTask(context.Background(), portfolioTask(t, tasks.TypePortfolioPDF, tasks.PortfolioPayload{StudentID: 4, RequestedBy: 1}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, portfolios.pdfKeys)
	// 非最后一次尝试不推送错误通知
	assert.Empty(t, pub.sent)
}
