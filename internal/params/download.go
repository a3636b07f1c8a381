package params

import (
	"net/url"
	"path/filepath"
	"strings"
)

// DownloadKinds lists the canonical download kinds.
var DownloadKinds = []string{"best-video", "mp4", "best-audio", "mp3"}

var kindAliases = map[string]string{
	"video_best": "best-video",
	"audio_best": "best-audio",
	"audio_mp3":  "mp3",
}

var kindArgs = map[string][]string{
	"best-video": {"-f", "bestvideo+bestaudio/best"},
	"mp4":        {"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"},
	"best-audio": {"-f", "bestaudio/best", "-x"},
	"mp3":        {"--force-ipv4", "-f", "bestaudio/best", "-x", "--audio-format", "mp3", "--audio-quality", "0", "--embed-thumbnail"},
}

// OutputTemplate is the downloader's file name template.
const OutputTemplate = "%(title)s.%(ext)s"

// NormalizeKind maps a submitted kind, including the legacy form values, to
// its canonical name.
func NormalizeKind(kind string) (string, bool) {
	k := strings.ToLower(strings.TrimSpace(kind))
	if alias, ok := kindAliases[k]; ok {
		k = alias
	}
	_, ok := kindArgs[k]
	return k, ok
}

// ResolveDownload validates the link and kind and builds the downloader
// invocation that writes into outputDir.
func ResolveDownload(kind, link, outputDir string) (*InvocationSpec, error) {
	name, ok := NormalizeKind(kind)
	if !ok {
		return nil, invalid("kind", "unsupported download kind %q", kind)
	}
	if err := validateLink(link); err != nil {
		return nil, err
	}
	if outputDir == "" {
		return nil, invalid("", "output directory is required")
	}
	link = strings.TrimSpace(link)
	tmpl := filepath.Join(outputDir, OutputTemplate)

	common := []string{"--no-playlist", "--restrict-filenames", "-o", tmpl}

	args := []string{"--newline"}
	args = append(args, kindArgs[name]...)
	args = append(args, common...)
	args = append(args, "--", link)

	lookup := []string{"--print", "filename", "--skip-download"}
	lookup = append(lookup, kindArgs[name]...)
	lookup = append(lookup, common...)
	lookup = append(lookup, "--", link)

	return &InvocationSpec{
		Tool:       ToolDownloader,
		Operation:  name,
		InputPath:  link,
		OutputPath: tmpl,
		KeepVideo:  name == "best-video" || name == "mp4",
		args:       args,
		nameArgs:   lookup,
	}, nil
}

func validateLink(link string) error {
	link = strings.TrimSpace(link)
	if link == "" {
		return invalid("link", "is required")
	}
	u, err := url.Parse(link)
	if err != nil {
		return invalid("link", "is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("link", "must be an http or https URL")
	}
	if u.Host == "" {
		return invalid("link", "must include a host")
	}
	return nil
}
