package pip

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/probe"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRunner Mock 命令执行器
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) (probe.Output, error) {
	called := m.Called(ctx, name, args)
	return called.Get(0).(probe.Output), called.Error(1)
}

func newInstaller(runner *MockRunner) *Installer {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewInstaller("python3", runner, time.Second, logger)
}

func TestInstall_PinnedVersion(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "python3",
		[]string{"-m", "pip", "install", "--disable-pip-version-check", "--no-input", "frida==16.5.9"}).
		Return(probe.Output{Stdout: "Successfully installed frida-16.5.9"}, nil)

	require.NoError(t, newInstaller(runner).Install(context.Background(), "frida", "16.5.9"))
	runner.AssertExpectations(t)
}

func TestInstall_Failure(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "python3", mock.Anything).
		Return(probe.Output{
			Stdout: "Collecting frida==99.0.0\n",
			Stderr: "ERROR: No matching distribution found for frida==99.0.0\n",
		}, errors.New("exit status 1"))

	err := newInstaller(runner).Install(context.Background(), "frida", "99.0.0")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindDownload, domain.KindOf(err))
	assert.Contains(t, err.Error(), "No matching distribution")
}

// overlapRunner 记录同时进行中的 pip 调用数
type overlapRunner struct {
	active int32
	peak   int32
}

func (r *overlapRunner) Run(ctx context.Context, name string, args ...string) (probe.Output, error) {
	n := atomic.AddInt32(&r.active, 1)
	for {
		p := atomic.LoadInt32(&r.peak)
		if n <= p || atomic.CompareAndSwapInt32(&r.peak, p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&r.active, -1)
	return probe.Output{}, nil
}

func TestInstall_SerializesSameInterpreter(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	runner := &overlapRunner{}
	inst := NewInstaller("python3", runner, time.Second, logger)

	var wg sync.WaitGroup
	for _, pkg := range []string{"frida-tools", "objection", "androguard", "apkleaks"} {
		wg.Add(1)
		go func(pkg string) {
			defer wg.Done()
			assert.NoError(t, inst.Install(context.Background(), pkg, ""))
		}(pkg)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.peak))
}

func TestRequirement(t *testing.T) {
	assert.Equal(t, "objection", Requirement("objection", ""))
	assert.Equal(t, "objection==1.11.0", Requirement("objection", "1.11.0"))
}
