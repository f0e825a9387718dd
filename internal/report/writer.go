package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sirupsen/logrus"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "installation-report.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Writer 报告写入器
type Writer struct {
	path   string
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewWriter 创建写入器
func NewWriter(path string, logger *logrus.Logger) *Writer {
	return &Writer{path: path, logger: logger}
}

// Path 报告文件路径
func (w *Writer) Path() string {
	return w.path
}

// Write 原子覆盖报告文件
func (w *Writer) Write(r *Report) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.MarshalIndent(r.Document(), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".installation_report-*.json")
	if err != nil {
		return &domain.FilesystemError{Op: "create", Path: dir, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &domain.FilesystemError{Op: "write", Path: tmp.Name(), Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &domain.FilesystemError{Op: "write", Path: tmp.Name(), Err: err}
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return &domain.FilesystemError{Op: "rename", Path: w.path, Err: err}
	}

	w.logger.WithFields(logrus.Fields{
		"path":    w.path,
		"records": len(r.Records()),
		"run_id":  r.RunID(),
	}).Debug("Installation report written")
	return nil
}

// Load 读取并校验报告文件
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile report schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("invalid installation report %s: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return FromDocument(doc), nil
}
