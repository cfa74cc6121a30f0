package nfe

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// Archive guarda los documentos autorizados o cancelados en ZIP bajo dir/<CNPJ>/<AAAAMM>/.
type Archive struct {
	dir string
}

// NewArchive crea el archivo. dir vacío deshabilita el guardado.
func NewArchive(dir string) *Archive {
	return &Archive{dir: dir}
}

// ArchiveEntry contenido de un ZIP del archivo.
type ArchiveEntry struct {
	AccessKey string
	ProcXML   []byte // nfeProc (NF-e + protNFe)
	Response  []byte // respuesta de la SEFAZ o retEvento
}

// CompressDocument empaqueta <chave>-procNFe.xml y la respuesta en un ZIP en memoria.
func CompressDocument(e ArchiveEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := []struct {
		name string
		data []byte
	}{
		{e.AccessKey + "-procNFe.xml", e.ProcXML},
		{e.AccessKey + "-retorno.xml", e.Response},
	}
	for _, f := range files {
		if len(f.data) == 0 {
			continue
		}
		fw, err := zw.Create(f.name)
		if err != nil {
			return nil, fmt.Errorf("zip: crear entrada %s: %w", f.name, err)
		}
		if _, err := fw.Write(f.data); err != nil {
			return nil, fmt.Errorf("zip: escribir %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: cerrar archivo: %w", err)
	}
	return buf.Bytes(), nil
}

// Store escribe el ZIP y devuelve su ruta. Una segunda escritura reemplaza la anterior
// (la cancelación agrega el retEvento al mismo documento).
func (a *Archive) Store(e ArchiveEntry) (string, error) {
	if a == nil || a.dir == "" {
		return "", nil
	}
	if err := pkgnfe.ValidateAccessKey(e.AccessKey); err != nil {
		return "", err
	}
	raw, err := CompressDocument(e)
	if err != nil {
		return "", err
	}
	// CNPJ del emisor: posiciones 7..20 de la clave.
	folder := filepath.Join(a.dir, e.AccessKey[6:20], "20"+e.AccessKey[2:6])
	if err := os.MkdirAll(folder, 0o750); err != nil {
		return "", fmt.Errorf("archivo: crear carpeta: %w", err)
	}
	path := filepath.Join(folder, e.AccessKey+".zip")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o640); err != nil {
		return "", fmt.Errorf("archivo: escribir: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("archivo: renombrar: %w", err)
	}
	return path, nil
}
