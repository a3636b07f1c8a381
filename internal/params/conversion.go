package params

import (
	"strconv"
	"strings"
)

// Codecs lists the conversion targets accepted by ResolveConversion.
var Codecs = []string{"aac", "ac3", "alac", "dts", "flac", "mka", "mkv", "mp3", "mp4", "opus", "vorbis", "wav"}

// codecPlan is the per-codec part of an ffmpeg invocation.
type codecPlan struct {
	args      []string
	ext       string
	videoExt  string // container used when video is kept; empty means the codec cannot keep video
	keepVideo bool   // codec always carries video through
	audioOnly bool   // codec always drops video
}

type codecResolver func(o Options) (codecPlan, error)

var codecResolvers = map[string]codecResolver{
	"aac":    resolveAAC,
	"ac3":    resolveAC3,
	"alac":   resolveALAC,
	"dts":    resolveDTS,
	"flac":   resolveFLAC,
	"mka":    resolveMKA,
	"mkv":    resolveMKV,
	"mp3":    resolveMP3,
	"mp4":    resolveMP4,
	"opus":   resolveOpus,
	"vorbis": resolveVorbis,
	"wav":    resolveWAV,
}

// ResolveConversion validates opts for codec and builds the ffmpeg
// invocation that reads input and writes outputBase plus the codec's
// extension. The codec name is case-insensitive.
func ResolveConversion(codec string, opts Options, input, outputBase string) (*InvocationSpec, error) {
	name := strings.ToLower(strings.TrimSpace(codec))
	resolve, ok := codecResolvers[name]
	if !ok {
		return nil, invalid("chosen_codec", "unsupported codec %q", codec)
	}
	if input == "" {
		return nil, invalid("chosen_file", "is required")
	}
	if strings.TrimSpace(outputBase) == "" {
		return nil, invalid("output_name", "is required")
	}
	if opts == nil {
		opts = Options{}
	}

	plan, err := resolve(opts)
	if err != nil {
		return nil, err
	}

	keepVideo := plan.keepVideo
	if !plan.keepVideo && !plan.audioOnly && plan.videoExt != "" {
		keepVideo, err = opts.flag("is_keep_video")
		if err != nil {
			return nil, err
		}
	}

	ext := plan.ext
	args := []string{"-progress", "pipe:1", "-nostats", "-y", "-i", input}
	switch {
	case plan.keepVideo:
	case keepVideo:
		ext = plan.videoExt
		args = append(args, "-c:v", "copy")
	default:
		args = append(args, "-vn")
	}
	args = append(args, plan.args...)

	output := outputBase + "." + ext
	args = append(args, output)

	return &InvocationSpec{
		Tool:       ToolFFmpeg,
		Operation:  name,
		InputPath:  input,
		OutputPath: output,
		Extension:  ext,
		KeepVideo:  keepVideo,
		args:       args,
	}, nil
}

func resolveAAC(o Options) (codecPlan, error) {
	plan := codecPlan{ext: "m4a", videoExt: "mp4", args: []string{"-c:a", "libfdk_aac"}}
	mode, err := o.oneOf("fdk_type", "cbr", "vbr")
	if err != nil {
		return plan, err
	}
	if mode == "cbr" {
		n, err := o.intIn("fdk_cbr", 8, 512)
		if err != nil {
			return plan, err
		}
		plan.args = append(plan.args, "-b:a", kbps(n))
	} else {
		n, err := o.intIn("fdk_vbr", 1, 5)
		if err != nil {
			return plan, err
		}
		plan.args = append(plan.args, "-vbr", strconv.Itoa(n))
	}

	lowpass, err := o.flag("is_fdk_lowpass")
	if err != nil {
		return plan, err
	}
	if lowpass {
		hz, err := o.intIn("fdk_lowpass", 1000, 20000)
		if err != nil {
			return plan, err
		}
		plan.args = append(plan.args, "-cutoff", strconv.Itoa(hz))
	}
	return plan, nil
}

func resolveAC3(o Options) (codecPlan, error) {
	n, err := o.intIn("ac3_bitrate", 32, 640)
	if err != nil {
		return codecPlan{}, err
	}
	return codecPlan{ext: "ac3", videoExt: "mkv", args: []string{"-c:a", "ac3", "-b:a", kbps(n)}}, nil
}

func resolveALAC(Options) (codecPlan, error) {
	return codecPlan{ext: "m4a", videoExt: "mp4", args: []string{"-c:a", "alac"}}, nil
}

func resolveDTS(o Options) (codecPlan, error) {
	n, err := o.intIn("dts_bitrate", 32, 3840)
	if err != nil {
		return codecPlan{}, err
	}
	return codecPlan{ext: "dts", videoExt: "mkv", args: []string{"-c:a", "dca", "-strict", "-2", "-b:a", kbps(n)}}, nil
}

func resolveFLAC(o Options) (codecPlan, error) {
	n, err := o.intIn("flac_compression", 0, 12)
	if err != nil {
		return codecPlan{}, err
	}
	return codecPlan{ext: "flac", videoExt: "mkv", args: []string{"-c:a", "flac", "-compression_level", strconv.Itoa(n)}}, nil
}

func resolveMKA(Options) (codecPlan, error) {
	return codecPlan{ext: "mka", keepVideo: false, audioOnly: true, args: []string{"-map", "0:a", "-c", "copy"}}, nil
}

func resolveMKV(Options) (codecPlan, error) {
	return codecPlan{ext: "mkv", keepVideo: true, args: []string{"-map", "0", "-c", "copy"}}, nil
}

func resolveMP3(o Options) (codecPlan, error) {
	plan := codecPlan{ext: "mp3", videoExt: "mkv", args: []string{"-c:a", "libmp3lame"}}
	mode, err := o.oneOf("mp3_encoding_type", "cbr", "abr", "vbr")
	if err != nil {
		return plan, err
	}
	switch mode {
	case "cbr", "abr":
		n, err := o.intIn("mp3_bitrate", 8, 320)
		if err != nil {
			return plan, err
		}
		if mode == "abr" {
			plan.args = append(plan.args, "-abr", "1")
		}
		plan.args = append(plan.args, "-b:a", kbps(n))
	case "vbr":
		n, err := o.intIn("mp3_vbr_setting", 0, 9)
		if err != nil {
			return plan, err
		}
		plan.args = append(plan.args, "-q:a", strconv.Itoa(n))
	}
	return plan, nil
}

func resolveMP4(o Options) (codecPlan, error) {
	plan := codecPlan{ext: "mp4", keepVideo: true}
	mode, err := o.oneOf("mp4_encoding_mode", "keep", "crf")
	if err != nil {
		return plan, err
	}
	if mode == "keep" {
		plan.args = []string{"-c", "copy"}
		return plan, nil
	}
	crf, err := o.intIn("crf_value", 0, 51)
	if err != nil {
		return plan, err
	}
	plan.args = []string{"-c:v", "libx264", "-preset", "medium", "-crf", strconv.Itoa(crf), "-c:a", "copy"}
	return plan, nil
}

func resolveOpus(o Options) (codecPlan, error) {
	plan := codecPlan{ext: "opus", audioOnly: true, args: []string{"-c:a", "libopus"}}
	mode, err := o.oneOf("opus_encoding_type", "vbr", "cbr")
	if err != nil {
		return plan, err
	}
	if mode == "vbr" {
		n, err := o.intIn("opus_vorbis_slider", 6, 510)
		if err != nil {
			return plan, err
		}
		plan.args = append(plan.args, "-b:a", kbps(n))
		return plan, nil
	}
	n, err := o.intIn("opus_cbr_bitrate", 6, 510)
	if err != nil {
		return plan, err
	}
	plan.args = append(plan.args, "-vbr", "off", "-b:a", kbps(n))
	return plan, nil
}

func resolveVorbis(o Options) (codecPlan, error) {
	plan := codecPlan{ext: "ogg", audioOnly: true, args: []string{"-c:a", "libvorbis"}}
	mode, err := o.oneOf("vorbis_encoding", "abr", "vbr")
	if err != nil {
		return plan, err
	}
	if mode == "vbr" {
		q, err := o.numberIn("vorbis_quality", -2, 10)
		if err != nil {
			return plan, err
		}
		plan.args = append(plan.args, "-q:a", strconv.FormatFloat(q, 'g', -1, 64))
		return plan, nil
	}
	n, err := o.intIn("opus_vorbis_slider", 32, 500)
	if err != nil {
		return plan, err
	}
	plan.args = append(plan.args, "-b:a", kbps(n))
	return plan, nil
}

func resolveWAV(o Options) (codecPlan, error) {
	depth, err := o.oneOf("wav_bit_depth", "16", "24", "32")
	if err != nil {
		return codecPlan{}, err
	}
	return codecPlan{ext: "wav", videoExt: "mkv", args: []string{"-c:a", "pcm_s" + depth + "le"}}, nil
}
