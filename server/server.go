// Package server contains misc server utilities.
package server

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ReplyWithFile replies to the client request by serving the file fn from
// the folder fldr.  fn may not leave fldr.
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	root, err := filepath.Abs(fldr)
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of folder %s %s", fldr, err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}
	filePath := filepath.Join(root, filepath.Clean("/"+fn))
	if !strings.HasPrefix(filePath, root+string(filepath.Separator)) {
		http.Error(w, "file outside of the served folder", http.StatusBadRequest)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", fn)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		http.Error(w, fmt.Sprintf("%s is not a file", fn), http.StatusNotFound)
		return
	}
	// ServeContent sets the content type from the extension
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}
