// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/hitoshi/groupware/internal/model"
)

// maxDecodeRounds は多重パーセントエンコードを展開する最大回数。
const maxDecodeRounds = 3

// blockedSchemes はリダイレクト先として常に拒否するスキーム。
var blockedSchemes = []string{"javascript:", "data:", "vbscript:"}

var (
	phpFilePattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+\.php(\?[A-Za-z0-9_=&%.+-]*)?$`)
	fragmentPattern = regexp.MustCompile(`^#[A-Za-z0-9_-]+$`)
)

// RedirectValidator はログイン後の遷移先として安全な値かどうかを判定する。
// 拒否リストを先に評価し、該当しなかったものだけ許可リストと照合する。
type RedirectValidator struct {
	scheme   string
	host     string
	basePath string
}

// NewRedirectValidator はRedirectValidatorを生成する。
// baseURLはアプリケーション自身のオリジン、basePathはアプリケーションのルートパス。
func NewRedirectValidator(baseURL, basePath string) (*RedirectValidator, error) {
	origin, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute: %s", baseURL)
	}
	return &RedirectValidator{
		scheme:   strings.ToLower(origin.Scheme),
		host:     strings.ToLower(origin.Host),
		basePath: NormalizeBasePath(basePath),
	}, nil
}

// NormalizeBasePath はベースパスを先頭スラッシュあり・末尾スラッシュなしの形に揃える。
// ルートの場合は"/"を返す。
func NormalizeBasePath(basePath string) string {
	p := path.Clean("/" + strings.Trim(basePath, "/"))
	return p
}

// BasePath は正規化済みのベースパスを返す。
func (v *RedirectValidator) BasePath() string {
	return v.basePath
}

// Path はベースパス配下のパスを組み立てる。
func (v *RedirectValidator) Path(elem string) string {
	return path.Join(v.basePath, elem)
}

// LoginPath はログインページのパスを返す。
func (v *RedirectValidator) LoginPath() string {
	return v.Path("login")
}

// DefaultFor はロールごとのデフォルト遷移先を返す。
func (v *RedirectValidator) DefaultFor(role model.Role) string {
	if role == model.RoleAdmin {
		return v.Path("admin/index")
	}
	return v.Path("home")
}

// Destination は候補を検証し、安全でなければロール既定の遷移先を返す。
// ログインページが遷移先になることはない。
func (v *RedirectValidator) Destination(role model.Role, candidate string) string {
	dest, ok := v.Validate(candidate)
	if !ok || v.isLoginPage(dest) {
		return v.DefaultFor(role)
	}
	return dest
}

// Validate は候補が安全な遷移先であれば正規化した値とtrueを返す。
// 同一オリジンの絶対URLはパス部分に変換する。空文字列はfalseを返す。
func (v *RedirectValidator) Validate(candidate string) (string, bool) {
	if hasControlChars(candidate) {
		return "", false
	}
	c := strings.TrimSpace(candidate)
	if c == "" {
		return "", false
	}

	decoded, ok := decodeAll(c)
	if !ok {
		return "", false
	}
	for _, form := range []string{c, decoded} {
		if isDenied(form) {
			return "", false
		}
	}

	if fragmentPattern.MatchString(c) || phpFilePattern.MatchString(c) {
		return c, true
	}

	u, err := url.Parse(c)
	if err != nil {
		return "", false
	}
	if u.Scheme != "" || u.Host != "" {
		if !strings.EqualFold(u.Scheme, v.scheme) || !strings.EqualFold(u.Host, v.host) || u.User != nil {
			return "", false
		}
		c = u.EscapedPath()
		if u.RawQuery != "" {
			c += "?" + u.RawQuery
		}
		if u.Fragment != "" {
			c += "#" + u.EscapedFragment()
		}
		u, err = url.Parse(c)
		if err != nil {
			return "", false
		}
	}

	if !strings.HasPrefix(c, "/") || !v.underBase(u.Path) {
		return "", false
	}
	return c, true
}

func (v *RedirectValidator) underBase(p string) bool {
	if v.basePath == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == v.basePath || strings.HasPrefix(p, v.basePath+"/")
}

// isLoginPage はドットセグメントや重複スラッシュを正規化してからログインページと比較する。
func (v *RedirectValidator) isLoginPage(dest string) bool {
	p := dest
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return false
	}
	decoded, ok := decodeAll(p)
	if !ok {
		return true
	}
	return path.Clean("/"+decoded) == v.LoginPath()
}

// isDenied は拒否リストに該当するかを判定する。
func isDenied(s string) bool {
	lower := strings.ToLower(s)
	if strings.Contains(lower, `\`) {
		return true
	}
	if strings.HasPrefix(lower, "//") {
		return true
	}
	for _, scheme := range blockedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	pathPart := lower
	if i := strings.IndexAny(pathPart, "?#"); i >= 0 {
		pathPart = pathPart[:i]
	}
	for _, seg := range strings.Split(pathPart, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// decodeAll はパーセントエンコードを変化がなくなるまで展開する。
// 展開後に制御文字が現れた場合や展開に失敗した場合はfalseを返す。
func decodeAll(s string) (string, bool) {
	current := s
	for i := 0; i < maxDecodeRounds; i++ {
		next, err := url.PathUnescape(current)
		if err != nil {
			return "", false
		}
		if next == current {
			break
		}
		current = next
	}
	if hasControlChars(current) {
		return "", false
	}
	return current, true
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}
