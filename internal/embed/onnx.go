package embed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/aman-cerp/codesearch/internal/errkind"
)

// onnxMaxSeqLen caps token length per input; O(seqLen^2) attention cost makes an
// unbounded sequence a latency risk on CPU-only inference.
const onnxMaxSeqLen = 256

// ONNXEmbedder runs a local sentence-transformer model (input_ids,
// attention_mask, token_type_ids -> last_hidden_state) through ONNX Runtime
// and mean-pools the token embeddings using the attention mask. The model
// and tokenizer are loaded lazily from modelDir on first use and retained
// for the process lifetime; modelDir must already contain model.onnx and
// tokenizer.json, this type never fetches them.
type ONNXEmbedder struct {
	modelPath     string
	tokenizerPath string
	dims          int

	mu        sync.Mutex
	once      sync.Once
	initErr   error
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizers.Tokenizer
	closed    bool
}

// NewONNXEmbedder returns an embedder that will load model.onnx and
// tokenizer.json from modelDir on first Embed/EmbedBatch call. dims is the
// model's known output dimension (e.g. 384 for a MiniLM-class model).
func NewONNXEmbedder(modelDir string, dims int) *ONNXEmbedder {
	return &ONNXEmbedder{
		modelPath:     filepath.Join(modelDir, "model.onnx"),
		tokenizerPath: filepath.Join(modelDir, "tokenizer.json"),
		dims:          dims,
	}
}

func (e *ONNXEmbedder) ensureLoaded() error {
	e.once.Do(func() {
		e.initErr = e.load()
	})
	return e.initErr
}

func (e *ONNXEmbedder) load() error {
	if _, err := os.Stat(e.modelPath); err != nil {
		return fmt.Errorf("%w: model not found at %s", errkind.ErrModelLoad, e.modelPath)
	}
	if _, err := os.Stat(e.tokenizerPath); err != nil {
		return fmt.Errorf("%w: tokenizer not found at %s", errkind.ErrModelLoad, e.tokenizerPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: init onnxruntime: %v", errkind.ErrModelLoad, err)
	}

	numThreads := runtime.NumCPU()
	if numThreads > 4 {
		numThreads = 4
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("%w: session options: %v", errkind.ErrModelLoad, err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
		return fmt.Errorf("%w: set intra threads: %v", errkind.ErrModelLoad, err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return fmt.Errorf("%w: set inter threads: %v", errkind.ErrModelLoad, err)
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}
	session, err := ort.NewDynamicAdvancedSession(e.modelPath, inputNames, outputNames, opts)
	if err != nil {
		return fmt.Errorf("%w: create session: %v", errkind.ErrModelLoad, err)
	}

	tk, err := tokenizers.FromFile(e.tokenizerPath)
	if err != nil {
		session.Destroy()
		return fmt.Errorf("%w: load tokenizer: %v", errkind.ErrModelLoad, err)
	}

	e.session = session
	e.tokenizer = tk
	return nil
}

// onnxTokenized holds one text's token ids and attention mask.
type onnxTokenized struct {
	ids  []int64
	mask []int64
}

// Embed generates an embedding for a single text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch tokenizes texts, runs one inference call, and mean-pools each
// row's token embeddings over the positions its attention mask marks valid.
// Calls are serialized: ONNX Runtime sessions are not safe for concurrent
// Run calls from this binding.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("%w: embedder closed", errkind.ErrEmbedding)
	}
	if err := e.ensureLoaded(); err != nil {
		return nil, err
	}

	all := make([]onnxTokenized, len(texts))
	maxLen := 0
	for i, text := range texts {
		enc := e.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
		ids := enc.IDs
		if len(ids) > onnxMaxSeqLen {
			ids = ids[:onnxMaxSeqLen]
		}
		ids64 := make([]int64, len(ids))
		mask64 := make([]int64, len(ids))
		for j, v := range ids {
			ids64[j] = int64(v)
			mask64[j] = 1
		}
		if len(enc.AttentionMask) >= len(ids) {
			for j := range ids64 {
				mask64[j] = int64(enc.AttentionMask[j])
			}
		}
		all[i] = onnxTokenized{ids: ids64, mask: mask64}
		if len(ids64) > maxLen {
			maxLen = len(ids64)
		}
	}
	if maxLen == 0 {
		return nil, fmt.Errorf("%w: all inputs tokenized to zero length", errkind.ErrEmbedding)
	}

	batchSize := len(texts)
	flatIDs := make([]int64, batchSize*maxLen)
	flatMask := make([]int64, batchSize*maxLen)
	flatType := make([]int64, batchSize*maxLen)
	for i, tok := range all {
		copy(flatIDs[i*maxLen:], tok.ids)
		copy(flatMask[i*maxLen:], tok.mask)
	}
	shape := ort.NewShape(int64(batchSize), int64(maxLen))

	inputIDs, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: input_ids tensor: %v", errkind.ErrEmbedding, err)
	}
	defer inputIDs.Destroy()

	attnMask, err := ort.NewTensor(shape, flatMask)
	if err != nil {
		return nil, fmt.Errorf("%w: attention_mask tensor: %v", errkind.ErrEmbedding, err)
	}
	defer attnMask.Destroy()

	typeIDs, err := ort.NewTensor(shape, flatType)
	if err != nil {
		return nil, fmt.Errorf("%w: token_type_ids tensor: %v", errkind.ErrEmbedding, err)
	}
	defer typeIDs.Destroy()

	inputs := []ort.Value{inputIDs, attnMask, typeIDs}
	outputs := []ort.Value{nil}
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("%w: onnxruntime run: %v", errkind.ErrEmbedding, err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	hiddenTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output type", errkind.ErrEmbedding)
	}
	hidden := hiddenTensor.GetData()
	seqLen := int(hiddenTensor.GetShape()[1])
	dim := int(hiddenTensor.GetShape()[2])

	embeddings := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		embeddings[i] = meanPool(hidden, all[i].mask, i, seqLen, dim)
	}
	return embeddings, nil
}

// meanPool averages token d-dimensional vectors across positions flagged
// valid by mask, then L2-normalizes the result. Padding positions (mask==0)
// never contribute, so pooling is independent of how much padding a batch
// carries.
func meanPool(hidden []float32, mask []int64, row, seqLen, dim int) []float32 {
	vec := make([]float32, dim)
	base := row * seqLen * dim
	var count float32
	for t := 0; t < seqLen && t < len(mask); t++ {
		if mask[t] == 0 {
			continue
		}
		count++
		off := base + t*dim
		for d := 0; d < dim; d++ {
			vec[d] += hidden[off+d]
		}
	}
	if count > 0 {
		for d := range vec {
			vec[d] /= count
		}
	}
	return normalizeVector(vec)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *ONNXEmbedder) ModelName() string {
	return "onnx"
}

// Available reports whether the model and tokenizer load successfully.
func (e *ONNXEmbedder) Available(_ context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	return e.ensureLoaded() == nil
}

// Close releases the ONNX session and tokenizer.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.session != nil {
		e.session.Destroy()
	}
	if e.tokenizer != nil {
		e.tokenizer.Close()
	}
	return nil
}
