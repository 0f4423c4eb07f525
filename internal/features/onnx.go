package features

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Brownie44l1/transfer-classifier/internal/tensor"
)

const (
	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"

	defaultONNXBatch = 32
)

// ONNXConfig points at a pretrained feature-vector model exported to ONNX.
// Empty names select the model's first input and output.
type ONNXConfig struct {
	ModelPath         string `yaml:"model_path"`
	SharedLibraryPath string `yaml:"shared_library"`
	InputName         string `yaml:"input_name"`
	OutputName        string `yaml:"output_name"`
	Layout            string `yaml:"layout"`
	BatchSize         int    `yaml:"batch_size"`
}

// ONNX runs images through an onnxruntime session. The session is created
// once and reused for every Predict call.
type ONNX struct {
	session  *ort.DynamicAdvancedSession
	layout   string
	batch    int
	dim      int
	outShape ort.Shape
	logger   *zap.SugaredLogger
}

func OpenONNX(cfg ONNXConfig, logger *zap.SugaredLogger) (*ONNX, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx feature extractor needs a model path")
	}
	layout := strings.ToLower(cfg.Layout)
	if layout == "" {
		layout = LayoutNHWC
	}
	if layout != LayoutNHWC && layout != LayoutNCHW {
		return nil, errors.Errorf("unknown tensor layout %q", cfg.Layout)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultONNXBatch
	}

	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize ONNX environment")
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, multierr.Append(errors.Wrapf(err, "failed to inspect %s", cfg.ModelPath), ort.DestroyEnvironment())
	}
	in, err := pickInfo(inputs, cfg.InputName)
	if err != nil {
		return nil, multierr.Append(errors.Wrap(err, "input"), ort.DestroyEnvironment())
	}
	out, err := pickInfo(outputs, cfg.OutputName)
	if err != nil {
		return nil, multierr.Append(errors.Wrap(err, "output"), ort.DestroyEnvironment())
	}
	dim, err := featureDim(out.Dimensions)
	if err != nil {
		return nil, multierr.Append(err, ort.DestroyEnvironment())
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{in.Name}, []string{out.Name}, nil)
	if err != nil {
		return nil, multierr.Append(errors.Wrap(err, "failed to create ONNX session"), ort.DestroyEnvironment())
	}
	logger.Infow("feature model loaded", "path", cfg.ModelPath, "input", in.Name, "output", out.Name,
		"dim", dim, "layout", layout)

	return &ONNX{
		session:  session,
		layout:   layout,
		batch:    cfg.BatchSize,
		dim:      dim,
		outShape: out.Dimensions.Clone(),
		logger:   logger,
	}, nil
}

func pickInfo(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, errors.New("model declares no tensors")
	}
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, errors.Errorf("no tensor named %q", name)
}

// featureDim multiplies the non-batch output dimensions.
func featureDim(shape ort.Shape) (int, error) {
	if len(shape) < 2 {
		return 0, errors.Errorf("output shape %v has no feature axis", shape)
	}
	dim := 1
	for _, d := range shape[1:] {
		if d <= 0 {
			return 0, errors.Errorf("output shape %v has a dynamic feature axis", shape)
		}
		dim *= int(d)
	}
	return dim, nil
}

func (o *ONNX) Dim() int { return o.dim }

// Predict maps [N, H, W, 3] images to [N, Dim] feature vectors.
func (o *ONNX) Predict(ctx context.Context, images tensor.Tensor) (tensor.Tensor, error) {
	if images.Rank() != 4 || images.Dim(3) != 3 {
		return tensor.Tensor{}, errors.Errorf("expected [N H W 3] images, got %v", images.Shape())
	}
	n, h, w := images.Dim(0), images.Dim(1), images.Dim(2)
	rowSize := images.RowSize()
	out := make([]float32, 0, n*o.dim)
	for start := 0; start < n; start += o.batch {
		if err := ctx.Err(); err != nil {
			return tensor.Tensor{}, err
		}
		end := min(start+o.batch, n)
		chunk := images.Data()[start*rowSize : end*rowSize]
		features, err := o.run(chunk, end-start, h, w)
		if err != nil {
			return tensor.Tensor{}, err
		}
		out = append(out, features...)
		o.logger.Debugw("features extracted", "from", start, "to", end)
	}
	return tensor.New([]int{n, o.dim}, out)
}

func (o *ONNX) run(chunk []float32, b, h, w int) ([]float32, error) {
	shape := ort.NewShape(int64(b), int64(h), int64(w), 3)
	if o.layout == LayoutNCHW {
		chunk = toNCHW(chunk, b, h, w)
		shape = ort.NewShape(int64(b), 3, int64(h), int64(w))
	}
	input, err := ort.NewTensor(shape, chunk)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}
	defer input.Destroy()

	outShape := o.outShape.Clone()
	outShape[0] = int64(b)
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create output tensor")
	}
	defer output.Destroy()

	if err := o.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, errors.Wrap(err, "feature extraction failed")
	}
	return append([]float32(nil), output.GetData()...), nil
}

// toNCHW reorders HWC pixels into planar channels.
func toNCHW(src []float32, b, h, w int) []float32 {
	dst := make([]float32, len(src))
	plane := h * w
	for n := 0; n < b; n++ {
		base := n * plane * 3
		for p := 0; p < plane; p++ {
			for c := 0; c < 3; c++ {
				dst[base+c*plane+p] = src[base+p*3+c]
			}
		}
	}
	return dst
}

func (o *ONNX) Close() error {
	var err error
	if o.session != nil {
		err = o.session.Destroy()
		o.session = nil
	}
	return multierr.Append(err, ort.DestroyEnvironment())
}
