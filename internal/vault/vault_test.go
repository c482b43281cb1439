package vault

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panel-backup/internal/models"
)

func testKey(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, KeySize)
}

func testCipher(t *testing.T, fill byte) *Cipher {
	t.Helper()
	c, err := NewCipher(testKey(fill))
	require.NoError(t, err)
	return c
}

type memoryPersister struct {
	mu    sync.Mutex
	hosts []models.HostRecord
}

func (m *memoryPersister) ReadHosts(ctx context.Context) ([]models.HostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.CloneHosts(m.hosts), nil
}

func (m *memoryPersister) WriteHosts(ctx context.Context, hosts []models.HostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts = models.CloneHosts(hosts)
	return nil
}

func TestCipherFieldRoundTrip(t *testing.T) {
	c := testCipher(t, 0x42)
	assert.Equal(t, "AES-256-GCM", c.Algorithm())

	inputs := []string{"", "p", "пароль-секрет", "密码🔑", strings.Repeat("x", 4096), "enc:v1:looks-tagged"}
	for _, in := range inputs {
		encrypted, err := c.EncryptField(in)
		require.NoError(t, err)
		assert.True(t, IsEncryptedField(encrypted))

		got, state := c.DecryptField(encrypted)
		assert.Equal(t, FieldDecrypted, state)
		assert.Equal(t, in, got)
	}
}

func TestCipherFieldUsesFreshNonce(t *testing.T) {
	c := testCipher(t, 0x42)

	a, err := c.EncryptField("same")
	require.NoError(t, err)
	b, err := c.EncryptField("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptFieldStates(t *testing.T) {
	c := testCipher(t, 0x42)
	other := testCipher(t, 0x17)

	got, state := c.DecryptField("legacy-password")
	assert.Equal(t, FieldPlaintext, state)
	assert.Equal(t, "legacy-password", got)

	foreign, err := other.EncryptField("secret")
	require.NoError(t, err)
	got, state = c.DecryptField(foreign)
	assert.Equal(t, FieldUndecryptable, state)
	assert.Equal(t, foreign, got, "undecryptable values come back raw")

	got, state = c.DecryptField(FieldPrefix + "!!not-base64!!")
	assert.Equal(t, FieldUndecryptable, state)
	assert.Equal(t, FieldPrefix+"!!not-base64!!", got)
}

func TestNewCipherRejectsShortKey(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.Error(t, err)
}

func TestStoreSaveEncryptsCopy(t *testing.T) {
	persister := &memoryPersister{}
	store := NewStore(persister, testCipher(t, 0x42), nil)

	records := []models.HostRecord{
		{Name: "A", BaseURL: "http://10.0.0.1:2053", Username: "admin", Password: "p"},
		{Name: "B", BaseURL: "https://10.0.0.2:8443", Username: "root", Password: "ключ"},
	}
	require.NoError(t, store.Save(context.Background(), records))

	assert.Equal(t, "p", records[0].Password, "caller records must not be mutated")
	for _, stored := range persister.hosts {
		assert.True(t, IsEncryptedField(stored.Password))
	}

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, records, loaded)
}

func TestStoreSaveTwiceIsIdempotent(t *testing.T) {
	persister := &memoryPersister{}
	store := NewStore(persister, testCipher(t, 0x42), nil)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, []models.HostRecord{{Name: "A", BaseURL: "http://a", Password: "p"}}))
	first, err := store.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, first))
	second, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStoreLoadLegacyPlaintext(t *testing.T) {
	persister := &memoryPersister{hosts: []models.HostRecord{{Name: "old", BaseURL: "http://old", Password: "plain"}}}
	store := NewStore(persister, testCipher(t, 0x42), nil)
	ctx := context.Background()

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "plain", loaded[0].Password)
	assert.False(t, loaded[0].CredentialUnreadable)

	require.NoError(t, store.Save(ctx, loaded))
	assert.True(t, IsEncryptedField(persister.hosts[0].Password), "legacy values migrate on save")
}

func TestStoreStaleKeyKeepsCiphertext(t *testing.T) {
	persister := &memoryPersister{}
	ctx := context.Background()

	original := NewStore(persister, testCipher(t, 0x42), nil)
	require.NoError(t, original.Save(ctx, []models.HostRecord{{Name: "A", BaseURL: "http://a", Password: "p"}}))
	ciphertext := persister.hosts[0].Password

	stale := NewStore(persister, testCipher(t, 0x17), nil)
	loaded, err := stale.Load(ctx)
	require.NoError(t, err, "decryption failure never aborts the load")
	assert.True(t, loaded[0].CredentialUnreadable)
	assert.Equal(t, ciphertext, loaded[0].Password)

	require.NoError(t, stale.Save(ctx, loaded))
	assert.Equal(t, ciphertext, persister.hosts[0].Password, "ciphertext is not wrapped twice")

	recovered, err := original.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p", recovered[0].Password)
}

func TestStoreEmpty(t *testing.T) {
	store := NewStore(&memoryPersister{}, testCipher(t, 0x42), nil)
	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, loaded)
	assert.Empty(t, loaded)
}

func TestStoreRekey(t *testing.T) {
	persister := &memoryPersister{}
	ctx := context.Background()
	store := NewStore(persister, testCipher(t, 0x42), nil)
	require.NoError(t, store.Save(ctx, []models.HostRecord{
		{Name: "A", BaseURL: "http://a", Password: "pa"},
		{Name: "B", BaseURL: "http://b", Password: "pb"},
	}))

	next := testCipher(t, 0x55)
	rekeyed, skipped, err := store.Rekey(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, 2, rekeyed)
	assert.Empty(t, skipped)

	loaded, err := NewStore(persister, next, nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pa", loaded[0].Password)
	assert.Equal(t, "pb", loaded[1].Password)
}

func TestKeyManagerLoadOrGenerateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "credential.key")
	km := NewKeyManager(KeyConfig{Source: KeySourceFile, Path: path})

	key, created, err := km.LoadOrGenerate()
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, key, KeySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, created, err := km.LoadOrGenerate()
	require.NoError(t, err)
	assert.False(t, created, "key is generated only once")
	assert.Equal(t, key, again)
}

func TestKeyManagerRejectsCorruptKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.key")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0600))

	_, _, err := NewKeyManager(KeyConfig{Source: KeySourceFile, Path: path}).LoadOrGenerate()
	assert.Error(t, err, "an unreadable key must never be silently replaced")
}

func TestKeyManagerEnv(t *testing.T) {
	key := testKey(0x42)
	t.Setenv("PANEL_BACKUP_TEST_KEY", hex.EncodeToString(key))

	loaded, created, err := NewKeyManager(KeyConfig{Source: KeySourceEnv, EnvVar: "PANEL_BACKUP_TEST_KEY"}).LoadOrGenerate()
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, key, loaded)

	_, _, err = NewKeyManager(KeyConfig{Source: KeySourceEnv, EnvVar: "PANEL_BACKUP_UNSET_KEY"}).LoadOrGenerate()
	assert.Error(t, err)
}

func TestKeyManagerPassphrase(t *testing.T) {
	t.Setenv("PANEL_BACKUP_TEST_PASSPHRASE", "correct horse battery staple")
	cfg := KeyConfig{
		Source:        KeySourcePassphrase,
		PassphraseEnv: "PANEL_BACKUP_TEST_PASSPHRASE",
		SaltPath:      filepath.Join(t.TempDir(), "credential.salt"),
	}

	first, created, err := NewKeyManager(cfg).LoadOrGenerate()
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := NewKeyManager(cfg).LoadOrGenerate()
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second, "same passphrase and salt derive the same key")
}

func TestValidateKey(t *testing.T) {
	km := NewKeyManager(KeyConfig{})

	assert.NoError(t, km.ValidateKey(testKey(0x42)))
	assert.Error(t, km.ValidateKey(testKey(0x00)))
	assert.Error(t, km.ValidateKey(testKey(0xFF)))
	assert.Error(t, km.ValidateKey([]byte("short")))
}

func TestReplaceRejectsExternalSources(t *testing.T) {
	err := NewKeyManager(KeyConfig{Source: KeySourceEnv}).Replace(testKey(0x42))
	assert.Error(t, err)
}
