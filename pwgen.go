package main

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	upperLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerLetters = "abcdefghijklmnopqrstuvwxyz"
	digits       = "0123456789"
	symbols      = "!#$%&()*+,-./:;<=>?@[]^_{}~"
)

func (srv *server) pwgen(w http.ResponseWriter, r *http.Request) error {
	n, err := strconv.ParseUint(r.FormValue("n"), 10, 0)
	if err != nil {
		return badRequest("n must be an integer")
	}
	var password string
	switch r.FormValue("mode") {
	case "":
		if n < 1 || n > 200 {
			return badRequest("n must be an integer 1-200")
		}
		set := passwordCharset(r.FormValue("symbols") != "")
		password, err = generatePasswordFromSet(srv.rand, int(n), set)
		if err != nil {
			return err
		}
	case "phrase":
		if n < 1 || n > 50 {
			return badRequest("n must be an integer 1-50")
		}
		if err := srv.words.init(); err != nil {
			return fmt.Errorf("load word list: %w", err)
		}
		possessives := r.FormValue("possessives") != ""
		password, err = srv.words.passphrase(srv.rand, int(n), possessives)
		if err != nil {
			return err
		}
	default:
		return badRequest("mode must be \"phrase\" or empty")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(password)))
	_, err = io.WriteString(w, password)
	return err
}

func badRequest(msg string) error {
	return userError{
		msg:    msg,
		err:    errors.New(msg),
		status: http.StatusBadRequest,
	}
}

func passwordCharset(withSymbols bool) []byte {
	set := make([]byte, 0, len(upperLetters)+len(lowerLetters)+len(digits)+len(symbols))
	set = append(set, upperLetters...)
	set = append(set, lowerLetters...)
	set = append(set, digits...)
	if withSymbols {
		set = append(set, symbols...)
	}
	return set
}

func generatePasswordFromSet(rand io.Reader, n int, set []byte) (string, error) {
	pw := make([]byte, n)
	for i := range pw {
		j, err := randInt(rand, len(set))
		if err != nil {
			return "", err
		}
		pw[i] = set[j]
	}
	return string(pw), nil
}

// wordList is a dictionary loaded on first use.
type wordList struct {
	path string

	once        sync.Once
	words       []string
	possessives []string
	err         error
}

func (wl *wordList) init() error {
	wl.once.Do(func() {
		wf, err := os.Open(wl.path)
		if err != nil {
			wl.err = err
			return
		}
		defer wf.Close()
		ws := bufio.NewScanner(wf)
		for ws.Scan() {
			w := strings.TrimSpace(ws.Text())
			switch {
			case w == "":
			case strings.HasSuffix(w, "'s"):
				wl.possessives = append(wl.possessives, w)
			default:
				wl.words = append(wl.words, w)
			}
		}
		wl.err = ws.Err()
		if wl.err == nil && len(wl.words) == 0 {
			wl.err = fmt.Errorf("%s: no words", wl.path)
		}
	})
	return wl.err
}

func (wl *wordList) passphrase(rand io.Reader, numWords int, includePossessives bool) (string, error) {
	max := len(wl.words)
	if includePossessives {
		max += len(wl.possessives)
	}
	var sb strings.Builder
	for i := 0; i < numWords; i++ {
		w, err := randInt(rand, max)
		if err != nil {
			return "", err
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		if w < len(wl.words) {
			sb.WriteString(wl.words[w])
		} else {
			sb.WriteString(wl.possessives[w-len(wl.words)])
		}
	}
	return sb.String(), nil
}

func randInt(r io.Reader, n int) (int, error) {
	max := big.NewInt(int64(n))
	i, err := rand.Int(r, max)
	if err != nil {
		return 0, err
	}
	return int(i.Int64()), nil
}
