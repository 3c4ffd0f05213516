package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nimdanitro/fenceline-dashboard/pkg/dashboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUploader struct {
	mock.Mock
	body []byte
}

func (m *mockUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	m.body, _ = io.ReadAll(in.Body)
	args := m.Called(aws.ToString(in.Bucket), aws.ToString(in.Key))
	out, _ := args.Get(0).(*manager.UploadOutput)
	return out, args.Error(1)
}

func TestRecordUploadsJSON(t *testing.T) {
	up := &mockUploader{}
	up.On("Upload", "fenceline", "snapshots/FNorth/5/1546300800.json").Return(&manager.UploadOutput{}, nil).Once()

	s := &S3Sink{Bucket: "fenceline", Prefix: "snapshots", Up: up}
	snap := dashboard.Snapshot{
		Pathway: "FNorth",
		Average: "5",
		Mode:    dashboard.ModeSpectrum,
		Rows:    []dashboard.DisplayRow{{Name: "Methane (ppm)", Value: dashboard.Number(1.9)}},
		TakenAt: time.Unix(1546300800, 0),
	}
	require.NoError(t, s.Record(context.Background(), snap))
	up.AssertExpectations(t)

	var got map[string]any
	require.NoError(t, json.Unmarshal(up.body, &got))
	assert.Equal(t, "FNorth", got["pathway"])
	assert.Equal(t, "spectrum", got["mode"])
}

func TestRecordUploadError(t *testing.T) {
	up := &mockUploader{}
	up.On("Upload", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	s := &S3Sink{Bucket: "b", Up: up}
	err := s.Record(context.Background(), dashboard.Snapshot{Pathway: "FPC", Average: "12", TakenAt: time.Unix(1, 0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FPC/12/1.json")
}
