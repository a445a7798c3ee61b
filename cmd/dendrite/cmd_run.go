package main

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfluke/dendrite/config"
	"github.com/openfluke/dendrite/engine"
	"github.com/openfluke/dendrite/gpu"
	"github.com/openfluke/dendrite/logging"
	"github.com/openfluke/dendrite/synapse"
)

func newRunCmd() *cobra.Command {
	var useGPU bool

	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Run a configured circuit",
		Long: `Run loads a YAML circuit description, chains its synapses into a
feedforward circuit, and drives it with random stimuli for the configured
number of steps. Each step every synapse transforms its clamped input,
adapts its kernel from its local pre/post activity, and back-transmits a
credit signal to the synapse upstream of it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			return runCircuit(args[0], level, useGPU)
		},
	}

	cmd.Flags().BoolVar(&useGPU, "gpu", false, "Compute forward passes on the GPU")
	return cmd
}

func runCircuit(path, levelOverride string, useGPU bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if levelOverride != "" {
		level = levelOverride
	}
	log := logging.NewLogger(level, os.Stderr)

	syns := make([]*synapse.HebbianConvSynapse, len(cfg.Synapses))
	for i, sc := range cfg.Synapses {
		scfg, err := sc.ToSynapse(cfg.Seed + int64(i))
		if err != nil {
			return err
		}
		s, err := synapse.NewHebbianConvSynapse(scfg)
		if err != nil {
			return fmt.Errorf("synapse %q: %w", sc.Name, err)
		}
		syns[i] = s
		log.Debug("constructed synapse",
			"name", s.Name(),
			"in", s.InShape(), "out", s.OutShape(),
			"delta", s.DeltaShape(), "x_delta", s.XDeltaShape(),
			"optimizer", s.Optimizer().Name())
	}

	for i := 1; i < len(syns); i++ {
		if !equalDims(syns[i].InShape(), syns[i-1].OutShape()) {
			return fmt.Errorf("%w: synapse %q expects input %v but %q emits %v",
				synapse.ErrConfiguration, syns[i].Name(), syns[i].InShape(),
				syns[i-1].Name(), syns[i-1].OutShape())
		}
	}

	var engines []*gpu.ForwardEngine
	if useGPU {
		if !gpu.Available() {
			log.Warn("no GPU adapter available, falling back to CPU forward passes")
		} else {
			engines = make([]*gpu.ForwardEngine, len(syns))
			for i, s := range syns {
				eng, err := gpu.NewForwardEngine(&s.ConvSynapse)
				if err != nil {
					return fmt.Errorf("gpu engine for %q: %w", s.Name(), err)
				}
				defer eng.Release()
				engines[i] = eng
			}
			log.Info("forward passes running on GPU", "synapses", len(engines))
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	var stimulus *synapse.Tensor

	circuit := engine.NewCircuit()
	circuit.Connect(engine.Cable{
		Name:  "stimulus->" + syns[0].Name(),
		Pull:  func() *synapse.Tensor { return stimulus },
		Clamp: func(t *synapse.Tensor) { syns[0].Inputs = t },
	})
	for i := 1; i < len(syns); i++ {
		prev, next := syns[i-1], syns[i]
		circuit.Connect(engine.Cable{
			Name:  prev.Name() + "->" + next.Name(),
			Pull:  func() *synapse.Tensor { return prev.Outputs },
			Clamp: func(t *synapse.Tensor) { next.Inputs = t },
		})
	}
	for _, s := range syns {
		circuit.Add(s)
	}

	log.Info("starting run", "config", path, "steps", cfg.Steps, "synapses", len(syns))

	for step := 1; step <= cfg.Steps; step++ {
		stimulus = randomStimulus(rng, syns[0].InShape())

		if engines != nil {
			if err := stepOnGPU(syns, engines, stimulus); err != nil {
				return fmt.Errorf("step %d: %w", step, err)
			}
		} else if err := circuit.Step(); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}

		// Credit flows from the deepest synapse back toward the stimulus:
		// each synapse adapts from its own pre/post activity, then
		// back-transmits the signal that becomes its upstream neighbor's
		// post-synaptic drive.
		credit := syns[len(syns)-1].Outputs
		for i := len(syns) - 1; i >= 0; i-- {
			s := syns[i]
			s.Pre = s.Inputs
			s.Post = credit
			if err := s.Evolve(); err != nil {
				return fmt.Errorf("step %d, synapse %q: %w", step, s.Name(), err)
			}
			if credit, err = s.Backtransmit(); err != nil {
				return fmt.Errorf("step %d, synapse %q: %w", step, s.Name(), err)
			}
			if engines != nil {
				if err := engines[i].UploadParams(&s.ConvSynapse); err != nil {
					return fmt.Errorf("step %d, synapse %q: %w", step, s.Name(), err)
				}
			}
		}

		for _, s := range syns {
			log.Debug("stepped",
				"step", step,
				"synapse", s.Name(),
				"out_norm", frobNorm(s.Outputs),
				"kernel_norm", frobNorm(s.Weights),
				"dw_norm", frobNorm(s.DWeights))
		}
	}

	for _, s := range syns {
		log.Info("synapse state",
			"synapse", s.Name(),
			"kernel_norm", frobNorm(s.Weights),
			"bias_norm", frobNorm(s.Biases),
			"dw_norm", frobNorm(s.DWeights))
	}
	log.Info("run complete", "steps", cfg.Steps)
	return nil
}

// stepOnGPU runs the forward chain through the compiled GPU engines,
// mirroring what Circuit.Step does on the CPU.
func stepOnGPU(syns []*synapse.HebbianConvSynapse, engines []*gpu.ForwardEngine, stimulus *synapse.Tensor) error {
	in := stimulus
	for i, s := range syns {
		out, err := engines[i].Forward(in)
		if err != nil {
			return fmt.Errorf("synapse %q: %w", s.Name(), err)
		}
		s.Inputs = in
		s.Outputs = out
		s.T += s.DT
		in = out
	}
	return nil
}

func randomStimulus(rng *rand.Rand, shape []int) *synapse.Tensor {
	t := synapse.NewTensor(shape...)
	for i := range t.Data {
		t.Data[i] = rng.Float32()
	}
	return t
}

func frobNorm(t *synapse.Tensor) float64 {
	if t == nil {
		return 0
	}
	var sum float64
	for _, v := range t.Data {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func equalDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
