package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akamensky/argparse"
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/veil/pkg/config"
	"github.com/cyclopcam/veil/pkg/nn"
	"github.com/cyclopcam/veil/pkg/pipeline"
	"github.com/cyclopcam/veil/pkg/preview"
	"github.com/cyclopcam/veil/pkg/yoloseg"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("veil", "Obfuscate people and objects in images, using recorded segmentation model output")
	images := parser.StringList("i", "image", &argparse.Options{Help: "Input image (repeat for a sequence of frames)", Required: true})
	output0 := parser.String("", "output0", &argparse.Options{Help: "Recorded detection head (.npy, [1,4+classes+32,8400])", Required: true})
	output1 := parser.String("", "output1", &argparse.Options{Help: "Recorded mask prototypes (.npy, [1,32,160,160])", Required: true})
	configFile := parser.String("c", "config", &argparse.Options{Help: "Pipeline config (JSON)", Default: ""})
	modelFile := parser.String("m", "model", &argparse.Options{Help: "Model config (JSON). Defaults to YOLOv8-seg on COCO", Default: ""})
	names := parser.String("", "names", &argparse.Options{Help: "Class names from the model metadata, eg \"{0: 'person', 1: 'bicycle'}\"", Default: ""})
	classFile := parser.String("", "classes", &argparse.Options{Help: "Text file with one class name per line (overrides the model config)", Default: ""})
	outDir := parser.String("o", "outdir", &argparse.Options{Help: "Write obfuscated frames as JPEG into this directory", Default: ""})
	repeat := parser.Int("r", "repeat", &argparse.Options{Help: "Run the sequence of frames this many times", Default: 1})
	serve := parser.String("s", "serve", &argparse.Options{Help: "Serve a live preview on this address, eg :8080", Default: ""})
	fps := parser.Int("", "fps", &argparse.Options{Help: "Frame rate for the live preview", Default: 10})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	cfg := config.Default()
	if *configFile != "" {
		cfg, err = config.LoadConfig(*configFile)
		check(err)
	}

	model := nn.NewYOLOv8SegConfig()
	if *modelFile != "" {
		model, err = nn.LoadModelConfig(*modelFile)
		check(err)
	}
	if *classFile != "" {
		model.Classes, err = nn.LoadClassFile(*classFile)
		check(err)
	}
	if *names != "" {
		model.Classes, err = nn.ParseClassNames(*names)
		check(err)
	}

	backend, err := yoloseg.LoadReplayBackend(*output0, *output1)
	check(err)
	engine := yoloseg.NewEngine(backend, model, cfg.DetectionParams())
	defer engine.Close()

	obf, err := pipeline.NewObfuscator(logger, engine, cfg, nil)
	check(err)

	frames := []*cimg.Image{}
	for _, fn := range *images {
		img, err := cimg.ReadFile(fn)
		check(err)
		frames = append(frames, img)
	}

	if *serve != "" {
		runPreview(logger, obf, frames, *serve, *fps)
		return
	}

	if *outDir != "" {
		check(os.MkdirAll(*outDir, 0755))
	}
	for r := 0; r < max(1, *repeat); r++ {
		for i, img := range frames {
			out := obf.Process(img)
			if *outDir == "" {
				continue
			}
			jpg, err := cimg.Compress(out, cimg.MakeCompressParams(cimg.Sampling420, preview.JPEGQuality, 0))
			check(err)
			base := strings.TrimSuffix(filepath.Base((*images)[i]), filepath.Ext((*images)[i]))
			check(os.WriteFile(filepath.Join(*outDir, fmt.Sprintf("%v-%04d.jpg", base, r)), jpg, 0644))
		}
	}

	stats := obf.Stats()
	logger.Infof("%v frames, %v detection frames, %v reconstructions, %v reuses, %v failures. Latency %.1f ms avg, %.1f ms p95",
		stats.Frames, stats.DetectionFrames, stats.Reconstructions, stats.Reuses, stats.Failures,
		float64(stats.AverageLatency.Microseconds())/1000, float64(stats.P95Latency.Microseconds())/1000)
}

// Loop over the frames forever, publishing each result to the preview server
func runPreview(logger logs.Log, obf *pipeline.Obfuscator, frames []*cimg.Image, addr string, fps int) {
	server := preview.NewServer(logger, obf)
	go func() {
		ticker := time.NewTicker(time.Second / time.Duration(max(1, fps)))
		defer ticker.Stop()
		for i := 0; ; i++ {
			<-ticker.C
			if _, err := server.Submit(frames[i%len(frames)]); err != nil {
				logger.Errorf("Failed to publish frame: %v", err)
			}
		}
	}()
	check(server.ListenAndServe(addr))
}
