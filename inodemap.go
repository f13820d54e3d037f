package ffsp

// inodeMap is the array indexed by inode number giving the cluster id
// that currently holds that inode, plus the per-cluster live-inode
// occupancy counts used to decide when an inode cluster's last tenant has
// moved on (spec.md §4.1 "Occupancy side effects").
type inodeMap struct {
	clusterOf  []uint32 // indexed by inode number; 0=free, 0xffffffff=reserved
	occupancy  []uint16 // indexed by cluster id; live inodes in that cluster
}

func newInodeMap(nino uint32, nclusters uint64) *inodeMap {
	return &inodeMap{
		clusterOf: make([]uint32, nino),
		occupancy: make([]uint16, nclusters),
	}
}

func (m *inodeMap) isFree(ino uint32) bool     { return m.clusterOf[ino] == freeClusterID }
func (m *inodeMap) isReserved(ino uint32) bool { return m.clusterOf[ino] == reservedClusterID }

// clusterID returns the cluster currently holding ino, or
// freeClusterID/reservedClusterID for the two sentinel states.
func (m *inodeMap) clusterID(ino uint32) uint32 { return m.clusterOf[ino] }

func (m *inodeMap) setFree(ino uint32)     { m.clusterOf[ino] = freeClusterID }
func (m *inodeMap) setReserved(ino uint32) { m.clusterOf[ino] = reservedClusterID }
func (m *inodeMap) setCluster(ino, cl uint32) {
	m.clusterOf[ino] = cl
	m.occupancy[cl]++
}

// findFree returns the lowest free inode number, or InvalidInoNo if the
// map is exhausted.
func (m *inodeMap) findFree() uint32 {
	for ino := RootIno + 1; int(ino) < len(m.clusterOf); ino++ {
		if m.isFree(ino) {
			return ino
		}
	}
	return InvalidInoNo
}

// releaseCluster decrements the occupancy of the cluster previously
// holding ino (if it was a real cluster, not free/reserved) and reports
// whether that cluster just dropped to zero live inodes.
func (m *inodeMap) releaseCluster(ino uint32) (cl uint32, emptied bool) {
	cl = m.clusterOf[ino]
	if cl == freeClusterID || cl == reservedClusterID {
		return cl, false
	}
	m.occupancy[cl]--
	return cl, m.occupancy[cl] == 0
}
