package store

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/uyouii/xsec-errprop/utils"
	"go.uber.org/zap"
)

// CopyExtra copies the objects named in the list file from one store to
// another. Lines starting with '#' are comments. A missing list file or a
// missing object is logged and skipped.
func CopyExtra(ctx context.Context, listPath string, from, to *Store) (copied, skipped int) {
	logger := utils.GetLogger(ctx)

	f, err := os.Open(listPath)
	if err != nil {
		logger.Warn("extra object list unavailable, skipped", zap.String("path", listPath), zap.Error(err))
		return 0, 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		if err := to.CopyObject(ctx, from, name); err != nil {
			logger.Warn("extra object skipped", zap.String("name", name), zap.Error(err))
			skipped++
			continue
		}
		copied++
	}
	if err := sc.Err(); err != nil {
		logger.Warn("read extra object list", zap.String("path", listPath), zap.Error(err))
	}

	logger.Info("copied extra objects", zap.Int("copied", copied), zap.Int("skipped", skipped))
	return copied, skipped
}
