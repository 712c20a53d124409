package loader

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/xi2/xz"

	"github.com/plainprince/mc-launcher/errs"
)

// downloadPackXz fetches the ".pack.xz" rendition of a legacy library,
// strips the trailing signature block, and runs unpack200 to produce
// the jar. Old Forge mirrors served most libraries this way.
func downloadPackXz(ctx context.Context, deps Deps, rawURL, dest string) error {
	packURL := rawURL + ".pack.xz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, packURL, nil)
	if err != nil {
		return errs.Wrap(errs.Network, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errs.Wrapf(errs.Network, err, "GET %s", packURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.Network, "unexpected status %d for %s", resp.StatusCode, packURL)
	}

	xzReader, err := xz.NewReader(resp.Body, 0)
	if err != nil {
		return errs.Wrapf(errs.ArchiveInvalid, err, "xz stream %s", packURL)
	}

	var packBuf bytes.Buffer
	packSz, err := packBuf.ReadFrom(xzReader)
	if err != nil {
		return errs.Wrapf(errs.ArchiveInvalid, err, "decompressing %s", packURL)
	}
	packData := packBuf.Bytes()

	sigLen, err := signatureLen(packData)
	if err != nil {
		return errs.Wrapf(errs.ArchiveInvalid, err, "stripping signatures")
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmpPack := filepath.Join(dir, "tmp.pack")
	if err := os.WriteFile(tmpPack, packData[:packSz-sigLen], 0o644); err != nil {
		return err
	}
	defer os.Remove(tmpPack)

	if err := exec.CommandContext(ctx, unpack200Cmd(), "-r", tmpPack, dest).Run(); err != nil {
		return fmt.Errorf("unpack200 on %s: %w", filepath.Base(dest), err)
	}
	deps.Log.Debug().Str("library", filepath.Base(dest)).Msg("unpacked pack.xz library")
	return nil
}

// signatureLen reads the trailing SIGN block length of a pack stream.
func signatureLen(data []byte) (int64, error) {
	sz := len(data)
	if sz < 8 || string(data[sz-4:]) != "SIGN" {
		return 0, fmt.Errorf("invalid signature bytes")
	}
	var sigLen uint32
	if err := binary.Read(bytes.NewReader(data[sz-8:sz-4]), binary.LittleEndian, &sigLen); err != nil {
		return 0, fmt.Errorf("invalid signature len: %w", err)
	}
	return int64(sigLen + 8), nil
}

func unpack200Cmd() string {
	if runtime.GOOS == "windows" {
		return "unpack200.exe"
	}
	return "unpack200"
}
