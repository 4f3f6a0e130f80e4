package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/thesis-registration-api/internal/models"
	"github.com/noah-isme/thesis-registration-api/internal/realtime"
	"github.com/noah-isme/thesis-registration-api/pkg/jobs"
	"github.com/noah-isme/thesis-registration-api/pkg/storage"
)

func intPtr(v int) *int { return &v }

func TestDecide(t *testing.T) {
	reg := &models.Registration{CreditsClaimed: 100}
	cases := []struct {
		name    string
		record  *models.RosterRecord
		status  models.RegistrationStatus
		credits *int
	}{
		{name: "absent", record: nil, status: models.RegistrationNotEnrolled},
		{name: "no credits column", record: &models.RosterRecord{StudentCode: "B01"}, status: models.RegistrationVerified},
		{name: "exact", record: &models.RosterRecord{Credits: intPtr(100)}, status: models.RegistrationVerified, credits: intPtr(100)},
		{name: "above claim", record: &models.RosterRecord{Credits: intPtr(130)}, status: models.RegistrationVerified, credits: intPtr(130)},
		{name: "below claim", record: &models.RosterRecord{Credits: intPtr(99)}, status: models.RegistrationInvalidCredits, credits: intPtr(99)},
		{name: "zero", record: &models.RosterRecord{Credits: intPtr(0)}, status: models.RegistrationInvalidCredits, credits: intPtr(0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(reg, tc.record)
			assert.Equal(t, tc.status, got.Status)
			assert.Equal(t, tc.credits, got.CreditsVerified)
		})
	}
}

const standardRoster = "Danh sach sinh vien du dieu kien,,,\n" +
	"Student ID,Full Name,Class,Credits\n" +
	"B01,Nguyen Van An,D20CN,120\n" +
	"B02,Tran Thi Binh,D20CN,90\n" +
	",,,\n" +
	"X99,Le Van Cuong,D21CN,150\n"

type workerFixture struct {
	worker    *VerificationWorker
	store     *memoryStore
	batches   *batchRepo
	files     *storage.LocalStorage
	publisher *recordingPublisher
	summary   *countingInvalidator
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	store := newMemoryStore()
	store.addTopic("t1", "ins-1", 3, 5)
	store.addStudent("stu-1", "B01", "Nguyen Van An")
	store.addStudent("stu-2", "B02", "Tran Thi Binh")
	store.addStudent("stu-3", "B03", "Pham Minh Duc")
	store.addStudent("stu-4", "B04", "Hoang Thu Ha")
	store.seedRegistration("stu-1", "t1", models.RegistrationAccepted, 120)
	store.seedRegistration("stu-2", "t1", models.RegistrationAccepted, 100)
	store.seedRegistration("stu-3", "t1", models.RegistrationAccepted, 100)
	store.seedRegistration("stu-4", "t1", models.RegistrationPendingReview, 100)

	f := &workerFixture{
		store:     store,
		batches:   newBatchRepo(),
		files:     files,
		publisher: &recordingPublisher{},
		summary:   &countingInvalidator{},
	}
	f.worker = NewVerificationWorker(f.batches, registrationRepo{store}, files, f.publisher, f.summary, NewMetricsService(), zap.NewNop(),
		VerificationWorkerConfig{Clock: fixedClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))})
	return f
}

func (f *workerFixture) queueCSV(t *testing.T, content string) *models.VerificationBatch {
	t.Helper()
	name := "roster-" + t.Name() + ".csv"
	name = strings.ReplaceAll(name, "/", "_")
	_, err := f.files.SaveStream(name, strings.NewReader(content))
	require.NoError(t, err)
	return f.queueStored(t, name)
}

func (f *workerFixture) queueStored(t *testing.T, name string) *models.VerificationBatch {
	t.Helper()
	batch := &models.VerificationBatch{Semester: "2024-1", FileName: name, FilePath: name, UploadedBy: "dept-1", Status: models.BatchStatusQueued}
	require.NoError(t, f.batches.Create(context.Background(), batch))
	return batch
}

func (f *workerFixture) outcomes() map[string]models.Registration {
	_, regs := f.store.snapshot()
	out := make(map[string]models.Registration, len(regs))
	for _, reg := range regs {
		reg.VerifiedAt = nil
		reg.UpdatedAt = time.Time{}
		out[reg.StudentID] = reg
	}
	return out
}

func TestVerificationWorkerReconcilesRoster(t *testing.T) {
	f := newWorkerFixture(t)
	batch := f.queueCSV(t, standardRoster)

	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: batch.ID, Type: VerificationJobType}))

	got := f.outcomes()
	assert.Equal(t, models.RegistrationVerified, got["stu-1"].Status)
	assert.Equal(t, intPtr(120), got["stu-1"].CreditsVerified)
	assert.Equal(t, models.RegistrationInvalidCredits, got["stu-2"].Status)
	assert.Equal(t, intPtr(90), got["stu-2"].CreditsVerified)
	assert.Equal(t, models.RegistrationNotEnrolled, got["stu-3"].Status)
	assert.Nil(t, got["stu-3"].CreditsVerified)
	assert.Equal(t, models.RegistrationPendingReview, got["stu-4"].Status)

	stored, err := f.batches.FindByID(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, stored.Status)
	assert.Equal(t, models.BatchResults{Total: 3, Verified: 1, InvalidCredits: 1, NotEnrolled: 1}, stored.Results)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.FinishedAt)
	assert.Nil(t, stored.Errors)

	events := f.publisher.ofType(realtime.EventVerificationComplete)
	require.Len(t, events, 3)
	assert.ElementsMatch(t, []realtime.Subject{realtime.StudentSubject("stu-1"), realtime.InstructorSubject("ins-1")}, events[0].Subjects)
	assert.Equal(t, 1, f.summary.calls)

	topic := f.store.topic("t1")
	assert.Equal(t, 3, topic.CurrentStudents)
}

func TestVerificationWorkerRosterWithoutCredits(t *testing.T) {
	f := newWorkerFixture(t)
	batch := f.queueCSV(t, "MSSV;Họ và tên;Lớp\nB01;Nguyen Van An;D20\nB02;Tran Thi Binh;D20\n")

	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: batch.ID}))

	got := f.outcomes()
	for _, id := range []string{"stu-1", "stu-2"} {
		assert.Equal(t, models.RegistrationVerified, got[id].Status, id)
		assert.Nil(t, got[id].CreditsVerified, id)
	}
	assert.Equal(t, models.RegistrationNotEnrolled, got["stu-3"].Status)
}

func TestVerificationWorkerReadsXLSX(t *testing.T) {
	f := newWorkerFixture(t)

	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	rows := [][]interface{}{
		{"Trường Đại học", nil, nil},
		{nil, nil, nil},
		{"Mã SV", "Họ và tên", "Số tín chỉ"},
		{"B01", "Nguyen Van An", 125},
		{"B03", "Pham Minh Duc", 80},
	}
	for i, row := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, book.SetSheetRow(sheet, cellName, &row))
	}
	name := "roster.xlsx"
	require.NoError(t, book.SaveAs(f.files.Path(name)))
	require.NoError(t, book.Close())
	batch := f.queueStored(t, name)

	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: batch.ID}))

	got := f.outcomes()
	assert.Equal(t, models.RegistrationVerified, got["stu-1"].Status)
	assert.Equal(t, intPtr(125), got["stu-1"].CreditsVerified)
	assert.Equal(t, models.RegistrationNotEnrolled, got["stu-2"].Status)
	assert.Equal(t, models.RegistrationInvalidCredits, got["stu-3"].Status)
	assert.Equal(t, intPtr(80), got["stu-3"].CreditsVerified)
}

func TestVerificationWorkerMalformedRosterFailsBatch(t *testing.T) {
	f := newWorkerFixture(t)
	batch := f.queueCSV(t, "Name,Class\nNguyen Van An,D20\n")
	before := f.outcomes()

	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: batch.ID}))

	stored, err := f.batches.FindByID(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, stored.Status)
	require.NotNil(t, stored.Errors)
	assert.Contains(t, *stored.Errors, "malformed roster")
	assert.Equal(t, before, f.outcomes())
	assert.Empty(t, f.publisher.events)
}

func TestVerificationWorkerMissingFileFailsBatch(t *testing.T) {
	f := newWorkerFixture(t)
	batch := f.queueStored(t, "gone.csv")

	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: batch.ID}))

	stored, err := f.batches.FindByID(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, stored.Status)
}

func TestVerificationWorkerUnknownBatchIsDropped(t *testing.T) {
	f := newWorkerFixture(t)
	assert.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: "missing"}))
}

func TestVerificationWorkerRerunIsIdempotent(t *testing.T) {
	f := newWorkerFixture(t)
	batch := f.queueCSV(t, standardRoster)
	ctx := context.Background()

	require.NoError(t, f.worker.Handle(ctx, jobs.Job{ID: batch.ID}))
	first := f.outcomes()

	require.NoError(t, f.worker.Handle(ctx, jobs.Job{ID: batch.ID}))
	assert.Equal(t, first, f.outcomes())

	stored, err := f.batches.FindByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, stored.Status)
	assert.Equal(t, models.BatchResults{Total: 3, Verified: 1, InvalidCredits: 1, NotEnrolled: 1}, stored.Results)
	assert.Len(t, f.publisher.ofType(realtime.EventVerificationComplete), 3)
}

func TestVerificationWorkerResumesAfterInterruption(t *testing.T) {
	ctx := context.Background()

	reference := newWorkerFixture(t)
	refBatch := reference.queueCSV(t, standardRoster)
	require.NoError(t, reference.worker.Handle(ctx, jobs.Job{ID: refBatch.ID}))

	f := newWorkerFixture(t)
	batch := f.queueCSV(t, standardRoster)
	f.store.failApplyAfter = 1

	err := f.worker.Handle(ctx, jobs.Job{ID: batch.ID})
	require.Error(t, err)
	stored, findErr := f.batches.FindByID(ctx, batch.ID)
	require.NoError(t, findErr)
	assert.Equal(t, models.BatchStatusProcessing, stored.Status)

	partial := f.outcomes()
	assert.Equal(t, models.RegistrationVerified, partial["stu-1"].Status)
	assert.Equal(t, models.RegistrationAccepted, partial["stu-2"].Status)

	f.store.failApplyAfter = -1
	require.NoError(t, f.worker.Handle(ctx, jobs.Job{ID: batch.ID, Attempt: 1}))

	assert.Equal(t, reference.outcomes(), f.outcomes())
	stored, err = f.batches.FindByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, stored.Status)
	assert.Equal(t, models.BatchResults{Total: 2, InvalidCredits: 1, NotEnrolled: 1}, stored.Results)
}

func TestVerificationWorkerFailsBatchOnLastAttempt(t *testing.T) {
	f := newWorkerFixture(t)
	batch := f.queueCSV(t, standardRoster)
	f.store.failApplyAfter = 0

	err := f.worker.Handle(context.Background(), jobs.Job{ID: batch.ID, Attempt: 3, Final: true})
	require.Error(t, err)

	stored, findErr := f.batches.FindByID(context.Background(), batch.ID)
	require.NoError(t, findErr)
	assert.Equal(t, models.BatchStatusFailed, stored.Status)
	require.NotNil(t, stored.Errors)
	assert.Contains(t, *stored.Errors, "connection reset")
}

func TestVerificationWorkerKeepsBatchProcessingBeforeFinalAttempt(t *testing.T) {
	f := newWorkerFixture(t)
	batch := f.queueCSV(t, standardRoster)
	f.store.failApplyAfter = 0

	require.Error(t, f.worker.Handle(context.Background(), jobs.Job{ID: batch.ID, Attempt: 5}))

	stored, err := f.batches.FindByID(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusProcessing, stored.Status)
	assert.Nil(t, stored.Errors)
}

func TestVerificationWorkerSkipsRegistrationWithoutStudentCode(t *testing.T) {
	f := newWorkerFixture(t)
	orphan := f.store.seedRegistration("stu-nocode", "t1", models.RegistrationAccepted, 100)
	batch := f.queueCSV(t, standardRoster)

	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: batch.ID}))

	reg, ok := f.store.registration(orphan.ID)
	require.True(t, ok)
	assert.Equal(t, models.RegistrationAccepted, reg.Status)
	assert.Nil(t, reg.CreditsVerified)

	stored, err := f.batches.FindByID(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchResults{Total: 3, Verified: 1, InvalidCredits: 1, NotEnrolled: 1}, stored.Results)
	for _, evt := range f.publisher.ofType(realtime.EventVerificationComplete) {
		assert.NotEqual(t, orphan.ID, evt.RegistrationID)
	}
}

func TestVerificationWorkerRecordsFailureThroughQueue(t *testing.T) {
	for _, maxRetries := range []int{0, 1} {
		f := newWorkerFixture(t)
		batch := f.queueCSV(t, standardRoster)
		f.store.failApplyAfter = 0

		queue := jobs.NewQueue("verification-test", jobs.NewMemoryBroker(4), f.worker.Handle, jobs.QueueConfig{
			MaxRetries: maxRetries,
			RetryDelay: 5 * time.Millisecond,
		})
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, queue.Start(ctx))
		require.NoError(t, queue.Enqueue(ctx, jobs.Job{ID: batch.ID, Type: VerificationJobType}))

		assert.Eventually(t, func() bool {
			stored, err := f.batches.FindByID(ctx, batch.ID)
			return err == nil && stored.Status == models.BatchStatusFailed
		}, 2*time.Second, 5*time.Millisecond, "max retries %d", maxRetries)
		queue.Stop()
		cancel()

		stored, err := f.batches.FindByID(context.Background(), batch.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.Errors)
		assert.Contains(t, *stored.Errors, "connection reset")
	}
}
